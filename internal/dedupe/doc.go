// Package dedupe filters platform events that are delivered more than once.
//
// Chat gateways redeliver events after reconnects and sync retries. Adapters
// key each event by platform, kind and ID and drop any key seen within the
// window, so a single reaction or message never starts two chats.
package dedupe
