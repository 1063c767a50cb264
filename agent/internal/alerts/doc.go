// Package alerts evaluates threshold rules against per-shot results and
// delivers webhook notifications to Slack, Teams or generic HTTP targets when
// a rule fires or resolves.
package alerts
