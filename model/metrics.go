package model

import (
	"fmt"
	"time"
)

// Metrics is the per-workflow execution counter value object.
// Invariants: Pending >= 0 and Succeeded+Failed <= Recorded.
type Metrics struct {
	Recorded      int64         `json:"recorded"`
	Succeeded     int64         `json:"succeeded"`
	Failed        int64         `json:"failed"`
	Pending       int64         `json:"pending"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastExecution time.Time     `json:"lastExecution"`
}

// RecordStart counts a newly admitted execution.
func (m *Metrics) RecordStart(at time.Time) {
	m.Recorded++
	m.Pending++
	m.LastExecution = at
}

// RecordSuccess moves one pending execution to succeeded.
func (m *Metrics) RecordSuccess(duration time.Duration) error {
	if err := m.settle(); err != nil {
		return err
	}
	m.Succeeded++
	m.TotalDuration += duration
	return nil
}

// RecordFailure moves one pending execution to failed.
func (m *Metrics) RecordFailure(duration time.Duration) error {
	if err := m.settle(); err != nil {
		return err
	}
	m.Failed++
	m.TotalDuration += duration
	return nil
}

func (m *Metrics) settle() error {
	if m.Pending <= 0 {
		return fmt.Errorf("metrics: no pending execution to settle")
	}
	if m.Succeeded+m.Failed >= m.Recorded {
		return fmt.Errorf("metrics: settled count would exceed recorded count")
	}
	m.Pending--
	return nil
}

// AverageDuration is the mean duration over settled executions.
func (m *Metrics) AverageDuration() time.Duration {
	settled := m.Succeeded + m.Failed
	if settled == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(settled)
}

func (m *Metrics) SuccessRate() float64 {
	settled := m.Succeeded + m.Failed
	if settled == 0 {
		return 0
	}
	return float64(m.Succeeded) / float64(settled)
}
