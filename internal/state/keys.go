package state

// Key is a fully-built store key. Handlers and the reconciler never build
// key strings by hand; each cache domain has its own builder below.
type Key string

func (k Key) String() string { return string(k) }

// MarkerForVariation keys the self-write marker recording our last write to
// Square for a variation. Checked against inbound Square count events.
func MarkerForVariation(variationID string) Key {
	return Key("ec2sq:marker:variation:" + variationID)
}

// MarkerForSKU keys the self-write marker recording our last write to the
// cart for a SKU. Checked against inbound cart product events.
func MarkerForSKU(sku string) Key {
	return Key("ec2sq:marker:sku:" + sku)
}

// LastApplied keys the occurrence timestamp of the last Square inventory
// event applied to the cart for a variation.
func LastApplied(variationID string) Key {
	return Key("ec2sq:lastapplied:" + variationID)
}

// PreZeroQuantity keys the last known non-zero quantity observed immediately
// before a zero was applied. Retained for diagnostic recovery.
func PreZeroQuantity(variationID string) Key {
	return Key("ec2sq:prezero:" + variationID)
}

// LastZeroAttempt keys metadata of the most recent zero-set attempt.
func LastZeroAttempt(variationID string) Key {
	return Key("ec2sq:zeroattempt:" + variationID)
}
