// Package triage provides the business boundary for Sift's ticket triage.
// It defines the Engine (knowledge-base lookup plus LLM classification for
// one ticket), the LLMClient (retry, backoff and reply validation around a
// Provider), the Service (queue admission, lifecycle, archiving and
// notification), the Store interface and the domain models.
package triage
