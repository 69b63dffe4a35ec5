// Package alerts evaluates threshold rules against sampled process vitals and
// delivers firing/resolved notifications to Teams, Slack or generic HTTP
// webhooks.
//
// A rule condition is "field operator value", e.g. "rss_bytes > 5e8". Fields:
// rss_bytes, heap_used_bytes, heap_total_bytes, sys_bytes, goroutines,
// cpu_user_seconds, cpu_system_seconds, uptime_seconds. A rule fires once per
// episode and not again until it resolves and its cooldown has elapsed.
//
// Webhook posts retry transport errors, 429 and 5xx with exponential backoff
// and jitter; a 4xx is final.
package alerts
