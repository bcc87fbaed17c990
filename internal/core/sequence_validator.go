package core

import (
	"fmt"
)

// SequenceValidator tracks per-partition sequences.
// Not thread-safe, only accessed from the serialised router or a single worker.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence enforces a gap-free sequence: the next value must be
// exactly the expected one. Used on the envelope stream.
func (sv *SequenceValidator) ValidateSequence(partition string, sequence int64) error {
	expected := sv.expectedNextSeq[partition]

	if sequence < expected {
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order sequence: partition=%s, expected=%d, got=%d",
			partition, expected, sequence)
	}

	if sequence > expected {
		sv.metrics.RecordGap(partition, expected, sequence)
		return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
			partition, expected, sequence)
	}

	sv.expectedNextSeq[partition] = expected + 1
	return nil
}

// ValidateReportSequence accepts adapter total-asset reports in order.
// Stale reports return false and must be ignored; gaps are tolerated
// because only the newest figure matters.
func (sv *SequenceValidator) ValidateReportSequence(partition string, sequence int64) bool {
	expected := sv.expectedNextSeq[partition]

	if sequence < expected {
		sv.metrics.RecordOutOfOrder(partition)
		return false
	}

	if sequence > expected {
		sv.metrics.RecordGap(partition, expected, sequence)
	}

	sv.expectedNextSeq[partition] = sequence + 1
	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Metrics returns the validator's counters
func (sv *SequenceValidator) Metrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
