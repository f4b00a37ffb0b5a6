// Package notifier renders change sets and delivers them to a webhook.
//
// # Formatting
//
// Format turns a diff.ChangeSet into one rich message (an embed with title,
// description, timestamp, color and footer). Sections are capped per category
// and the description is cut to a fixed budget so payloads stay bounded.
//
// # Delivery
//
// Client POSTs the message as JSON. Throttling (429), 403, 502, 503 and
// network failures are retried with exponential backoff, honoring the
// server's Retry-After when it asks for a longer pause. Every other failure
// is logged and returned in the Result; nothing here aborts the caller.
package notifier
