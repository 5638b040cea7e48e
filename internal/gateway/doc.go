// Package gateway assembles the relay pipeline from configuration.
//
// Construction wires the webhook receiver into the dispatcher, the
// dispatcher into the dedupe store, session registry, agent client,
// reply sender, and feedback writer, and mounts everything on one HTTP
// server. Run blocks until the context is canceled, then shuts the
// pieces down in reverse dependency order.
package gateway
