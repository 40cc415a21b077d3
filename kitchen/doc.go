// Package kitchen publishes confirmed orders to the restaurant's kitchen
// display systems over NATS. Announcements are fire-and-forget: the order
// is already accepted by the platform when an announcement is published,
// so a broker outage degrades display freshness, never order integrity.
package kitchen
