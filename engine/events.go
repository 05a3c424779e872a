package engine

// =============================================================================
// RUN EVENTS
// =============================================================================

// RankAdvancement is emitted by rank evaluation when a distributor moves
// up the ladder, and consumed by the rank-advancement bonus calculator.
// Exactly one event per distributor per run, regardless of how many ranks
// were crossed in a single evaluation.
type RankAdvancement struct {
	DistributorID DistributorID
	From          Rank
	To            Rank
	Period        Period
}
