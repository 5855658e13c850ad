// Package agent wraps a language model behind a per-session conversational handle.
//
// # Overview
//
// Each session owns exactly one Handle. The handle carries the session's
// memory buffer and forwards every human turn, together with the prior
// turns, to an llm.Provider.
//
//	factory := agent.NewFactory(provider, agent.FactoryConfig{...})
//	h := factory.New(agent.CourseAssistant)
//	_ = h.LoadHistory(turns)
//	reply, err := h.Process(ctx, "tell me more")
//
// # Variants
//
// The behavior set is closed: CourseAssistant answers questions about a
// course, IntakeInterviewer collects a short profile of a new student.
// Variants differ only in system prompt and token budget.
//
// # Memory
//
// LoadHistory may be called once, before the first Process. A successful
// Process appends the human turn and the agent turn; a failed Process
// leaves the buffer untouched and returns the provider error unchanged.
//
// # Thread Safety
//
// Memory and Variant are safe to call from any goroutine. Process must not
// be called concurrently on the same handle; the session worker guarantees
// one turn at a time.
package agent
