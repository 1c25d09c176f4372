// Package acse implements the Association Control Service Element: building
// and evaluating association requests, presentation context negotiation, and
// the reject/abort vocabulary (PS3.8, Section 7).
package acse

import (
	"fmt"

	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/pdu"
)

// MaxPresentationContexts is the ceiling on contexts per association.
const MaxPresentationContexts = 128

// SupportedContext describes one abstract syntax the acceptor is willing to
// negotiate, with its transfer syntaxes and role capability.
type SupportedContext struct {
	AbstractSyntax   string
	TransferSyntaxes []string
	SCURole          bool
	SCPRole          bool
}

// NegotiatedContext is the per-context outcome of negotiation. TransferSyntax
// is set only when Result is pdu.ResultAcceptance. Roles reflect the agreed
// role selection; without a role selection item the requestor acts as SCU and
// the acceptor as SCP.
type NegotiatedContext struct {
	ContextID      byte
	AbstractSyntax string
	TransferSyntax string
	Result         byte
	SCURole        bool
	SCPRole        bool
}

// Accepted reports whether the context may carry messages.
func (n *NegotiatedContext) Accepted() bool {
	return n.Result == pdu.ResultAcceptance
}

// Negotiate evaluates the requestor's proposed contexts against the
// acceptor's supported set. It returns one result per proposed context, in
// proposal order and under the original context ids, plus the role selection
// items to echo back. It is pure: no I/O, deterministic for equal inputs.
func Negotiate(proposed []*pdu.PresentationContextRQ, roles []*pdu.RoleSelection, supported []SupportedContext) ([]*NegotiatedContext, []*pdu.RoleSelection, error) {
	if len(proposed) > MaxPresentationContexts {
		return nil, nil, dicomerr.ErrTooManyContexts
	}

	roleByUID := make(map[string]*pdu.RoleSelection, len(roles))
	for _, r := range roles {
		roleByUID[r.SOPClassUID] = r
	}

	results := make([]*NegotiatedContext, 0, len(proposed))
	var echoes []*pdu.RoleSelection

	for _, p := range proposed {
		result := &NegotiatedContext{
			ContextID:      p.ContextID,
			AbstractSyntax: p.AbstractSyntax,
		}

		sup := findSupported(supported, p.AbstractSyntax)
		if sup == nil {
			result.Result = pdu.ResultAbstractSyntaxNotSupported
			results = append(results, result)
			continue
		}

		ts := firstCommonTransferSyntax(p.TransferSyntaxes, sup.TransferSyntaxes)
		if ts == "" {
			result.Result = pdu.ResultTransferSyntaxesNotSupported
			results = append(results, result)
			continue
		}

		result.Result = pdu.ResultAcceptance
		result.TransferSyntax = ts

		if req, ok := roleByUID[p.AbstractSyntax]; ok {
			agreedSCU := req.SCURole != 0 && sup.SCURole
			agreedSCP := req.SCPRole != 0 && sup.SCPRole
			result.SCURole = agreedSCU
			result.SCPRole = agreedSCP
			echoes = append(echoes, &pdu.RoleSelection{
				SOPClassUID: p.AbstractSyntax,
				SCURole:     roleByte(agreedSCU),
				SCPRole:     roleByte(agreedSCP),
			})
		} else {
			result.SCURole = true
			result.SCPRole = false
		}

		results = append(results, result)
	}

	return results, echoes, nil
}

func findSupported(supported []SupportedContext, abstractSyntax string) *SupportedContext {
	for i := range supported {
		if supported[i].AbstractSyntax == abstractSyntax {
			return &supported[i]
		}
	}
	return nil
}

// firstCommonTransferSyntax preserves the requestor's preference order.
func firstCommonTransferSyntax(proposed, supported []string) string {
	for _, p := range proposed {
		for _, s := range supported {
			if p == s {
				return p
			}
		}
	}
	return ""
}

func roleByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ValidateAC checks the acceptor's response against the original request on
// the requestor side: every result must reference a proposed context id, an
// accepted transfer syntax must be one the requestor proposed, and at least
// one context must be accepted.
func ValidateAC(rq *pdu.AAssociateRQ, ac *pdu.AAssociateAC) ([]*NegotiatedContext, error) {
	proposedByID := make(map[byte]*pdu.PresentationContextRQ, len(rq.PresentationContexts))
	for _, p := range rq.PresentationContexts {
		proposedByID[p.ContextID] = p
	}

	roleByUID := make(map[string]*pdu.RoleSelection)
	for _, r := range ac.UserInformation.RoleSelections {
		roleByUID[r.SOPClassUID] = r
	}

	results := make([]*NegotiatedContext, 0, len(ac.PresentationContexts))
	accepted := 0

	for _, ctx := range ac.PresentationContexts {
		p, ok := proposedByID[ctx.ContextID]
		if !ok {
			return nil, fmt.Errorf("%w: acceptor answered unproposed context id %d", dicomerr.ErrNoPresentationCtx, ctx.ContextID)
		}

		result := &NegotiatedContext{
			ContextID:      ctx.ContextID,
			AbstractSyntax: p.AbstractSyntax,
			Result:         ctx.Result,
		}

		if ctx.Result == pdu.ResultAcceptance {
			if !contains(p.TransferSyntaxes, ctx.TransferSyntax) {
				return nil, fmt.Errorf("%w: acceptor chose unproposed transfer syntax %q for context %d",
					dicomerr.ErrUnsupportedTransfer, ctx.TransferSyntax, ctx.ContextID)
			}
			result.TransferSyntax = ctx.TransferSyntax
			if echo, ok := roleByUID[p.AbstractSyntax]; ok {
				result.SCURole = echo.SCURole != 0
				result.SCPRole = echo.SCPRole != 0
			} else {
				result.SCURole = true
			}
			accepted++
		}

		results = append(results, result)
	}

	if accepted == 0 {
		return nil, fmt.Errorf("%w: acceptor accepted no presentation context", dicomerr.ErrNoPresentationCtx)
	}

	return results, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
