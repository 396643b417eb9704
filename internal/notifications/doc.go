// Package notifications delivers operational alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Events cover the
// moments an operator acts on: a precache install that failed, a new cache
// generation going live, and the launched application exiting.
package notifications
