// Package queue holds per-queue tuning: how many loop instances serve a
// queue and how fast they may claim jobs.
//
// Queues without a Config use the engine defaults and are not rate
// limited. Rate limits are local to one process; every instance sharing a
// store applies its own budget.
package queue
