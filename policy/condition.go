package policy

import (
	"fmt"
	"net/netip"
	"time"
)

// Condition kinds.
const (
	CondIPRange      = "ip_range"
	CondTimeWindow   = "time_window"
	CondAuthStrength = "auth_strength"
	CondAttribute    = "attribute"
	CondAny          = "any"
	CondAll          = "all"
	CondNot          = "not"
)

// EvalContext is the request context a condition is evaluated against.
type EvalContext struct {
	ClientIP     string            `json:"client_ip,omitempty"`
	Now          time.Time         `json:"now,omitempty"`
	MFASatisfied bool              `json:"mfa_satisfied,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Condition is a small tagged-variant expression tree. Conditions are data,
// never executable source, so a malformed one can only fail closed. Which
// fields apply depends on Type:
//
//	ip_range       CIDR
//	time_window    WindowStart, WindowEnd ("15:04", evaluated in UTC)
//	auth_strength  RequireMFA
//	attribute      Key, Equals
//	any, all       Children
//	not            Child
type Condition struct {
	Type        string       `json:"type"`
	CIDR        string       `json:"cidr,omitempty"`
	WindowStart string       `json:"window_start,omitempty"`
	WindowEnd   string       `json:"window_end,omitempty"`
	RequireMFA  bool         `json:"require_mfa,omitempty"`
	Key         string       `json:"key,omitempty"`
	Equals      string       `json:"equals,omitempty"`
	Children    []*Condition `json:"children,omitempty"`
	Child       *Condition   `json:"child,omitempty"`
}

// Eval evaluates the condition against the context. Any structural or parse
// failure returns ErrMalformedCondition so the evaluator can fail closed.
func (c *Condition) Eval(ectx *EvalContext) (bool, error) {
	switch c.Type {
	case CondIPRange:
		prefix, err := netip.ParsePrefix(c.CIDR)
		if err != nil {
			return false, fmt.Errorf("%w: bad cidr %q", ErrMalformedCondition, c.CIDR)
		}
		addr, err := netip.ParseAddr(ectx.ClientIP)
		if err != nil {
			// An unparseable caller address never satisfies a range.
			return false, nil
		}
		return prefix.Contains(addr), nil

	case CondTimeWindow:
		start, err := time.Parse("15:04", c.WindowStart)
		if err != nil {
			return false, fmt.Errorf("%w: bad window start %q", ErrMalformedCondition, c.WindowStart)
		}
		end, err := time.Parse("15:04", c.WindowEnd)
		if err != nil {
			return false, fmt.Errorf("%w: bad window end %q", ErrMalformedCondition, c.WindowEnd)
		}
		now := ectx.Now.UTC()
		minute := now.Hour()*60 + now.Minute()
		startMin := start.Hour()*60 + start.Minute()
		endMin := end.Hour()*60 + end.Minute()
		if startMin <= endMin {
			return minute >= startMin && minute < endMin, nil
		}
		// Window crosses midnight.
		return minute >= startMin || minute < endMin, nil

	case CondAuthStrength:
		if c.RequireMFA {
			return ectx.MFASatisfied, nil
		}
		return true, nil

	case CondAttribute:
		if c.Key == "" {
			return false, fmt.Errorf("%w: attribute condition without key", ErrMalformedCondition)
		}
		return ectx.Attributes[c.Key] == c.Equals, nil

	case CondAny:
		for _, child := range c.Children {
			ok, err := child.Eval(ectx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case CondAll:
		if len(c.Children) == 0 {
			return false, fmt.Errorf("%w: empty all condition", ErrMalformedCondition)
		}
		for _, child := range c.Children {
			ok, err := child.Eval(ectx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case CondNot:
		if c.Child == nil {
			return false, fmt.Errorf("%w: not condition without child", ErrMalformedCondition)
		}
		ok, err := c.Child.Eval(ectx)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("%w: unknown condition type %q", ErrMalformedCondition, c.Type)
	}
}

func (c *Condition) validate() error {
	_, err := c.Eval(&EvalContext{Now: time.Now().UTC(), Attributes: map[string]string{}})
	if err != nil {
		return err
	}
	return nil
}
