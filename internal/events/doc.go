// Package events publishes session lifecycle transitions to in-process
// subscribers, such as the gateway's server-sent event stream.
package events
