package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionIPRange(t *testing.T) {
	cond := &Condition{Type: CondIPRange, CIDR: "10.0.0.0/8"}

	ok, err := cond.Eval(&EvalContext{ClientIP: "10.1.2.3"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Eval(&EvalContext{ClientIP: "192.168.0.1"})
	require.NoError(t, err)
	assert.False(t, ok)

	// Unparseable caller address fails the range, not the evaluation.
	ok, err = cond.Eval(&EvalContext{ClientIP: "not-an-ip"})
	require.NoError(t, err)
	assert.False(t, ok)

	bad := &Condition{Type: CondIPRange, CIDR: "10.0.0.0/99"}
	_, err = bad.Eval(&EvalContext{ClientIP: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrMalformedCondition)
}

func TestConditionTimeWindow(t *testing.T) {
	cond := &Condition{Type: CondTimeWindow, WindowStart: "09:00", WindowEnd: "17:00"}

	at := func(hour int) *EvalContext {
		return &EvalContext{Now: time.Date(2026, 8, 25, hour, 30, 0, 0, time.UTC)}
	}

	ok, err := cond.Eval(at(10))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Eval(at(20))
	require.NoError(t, err)
	assert.False(t, ok)

	// Window crossing midnight.
	night := &Condition{Type: CondTimeWindow, WindowStart: "22:00", WindowEnd: "06:00"}
	ok, err = night.Eval(at(23))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = night.Eval(at(12))
	require.NoError(t, err)
	assert.False(t, ok)

	bad := &Condition{Type: CondTimeWindow, WindowStart: "25:99", WindowEnd: "17:00"}
	_, err = bad.Eval(at(10))
	assert.ErrorIs(t, err, ErrMalformedCondition)
}

func TestConditionAuthStrength(t *testing.T) {
	cond := &Condition{Type: CondAuthStrength, RequireMFA: true}

	ok, err := cond.Eval(&EvalContext{MFASatisfied: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Eval(&EvalContext{MFASatisfied: false})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionAttribute(t *testing.T) {
	cond := &Condition{Type: CondAttribute, Key: "department", Equals: "finance"}

	ok, err := cond.Eval(&EvalContext{Attributes: map[string]string{"department": "finance"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Eval(&EvalContext{Attributes: map[string]string{"department": "sales"}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cond.Eval(&EvalContext{})
	require.NoError(t, err)
	assert.False(t, ok)

	bad := &Condition{Type: CondAttribute}
	_, err = bad.Eval(&EvalContext{})
	assert.ErrorIs(t, err, ErrMalformedCondition)
}

func TestConditionComposites(t *testing.T) {
	mfa := &Condition{Type: CondAuthStrength, RequireMFA: true}
	internal := &Condition{Type: CondIPRange, CIDR: "10.0.0.0/8"}

	all := &Condition{Type: CondAll, Children: []*Condition{mfa, internal}}
	ok, err := all.Eval(&EvalContext{MFASatisfied: true, ClientIP: "10.0.0.5"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = all.Eval(&EvalContext{MFASatisfied: true, ClientIP: "8.8.8.8"})
	require.NoError(t, err)
	assert.False(t, ok)

	anyOf := &Condition{Type: CondAny, Children: []*Condition{mfa, internal}}
	ok, err = anyOf.Eval(&EvalContext{MFASatisfied: false, ClientIP: "10.0.0.5"})
	require.NoError(t, err)
	assert.True(t, ok)

	not := &Condition{Type: CondNot, Child: internal}
	ok, err = not.Eval(&EvalContext{ClientIP: "8.8.8.8"})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = (&Condition{Type: CondNot}).Eval(&EvalContext{})
	assert.ErrorIs(t, err, ErrMalformedCondition)
	_, err = (&Condition{Type: CondAll}).Eval(&EvalContext{})
	assert.ErrorIs(t, err, ErrMalformedCondition)
	_, err = (&Condition{Type: "regex"}).Eval(&EvalContext{})
	assert.ErrorIs(t, err, ErrMalformedCondition)
}
