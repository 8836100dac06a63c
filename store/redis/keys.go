package redis

// Redis key naming conventions for durable data.
// All keys are prefixed with "durable:" to avoid collisions.

const keyPrefix = "durable:"

// lockKey returns the key for a run lock: durable:lock:{runID}
func lockKey(runID string) string { return keyPrefix + "lock:" + runID }

// recordKey returns the key for an idempotency record:
// durable:idem:{scope}:{source}:{externalID}
func recordKey(scope, source, externalID string) string {
	return keyPrefix + "idem:" + scope + ":" + source + ":" + externalID
}
