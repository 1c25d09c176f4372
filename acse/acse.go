package acse

import (
	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/pdu"
	"github.com/radwire/dicomnet/types"
)

// Implementation identity advertised in the User Information item.
const (
	DefaultImplementationClassUID    = "1.2.826.0.1.3680043.10.386.1"
	DefaultImplementationVersionName = "RADWIRE_1_0"
)

// ProposedContext is one presentation context the requestor wants. Setting
// SCURole or SCPRole adds a role selection item for the abstract syntax.
type ProposedContext struct {
	AbstractSyntax   string
	TransferSyntaxes []string
	SCURole          bool
	SCPRole          bool
}

// RequestConfig parameterizes an A-ASSOCIATE-RQ. Zero values select the
// defaults noted per field.
type RequestConfig struct {
	CalledAETitle  string
	CallingAETitle string
	Contexts       []ProposedContext

	// MaxPDULength is the largest P-DATA-TF this side is willing to
	// receive. Defaults to pdu.DefaultMaxPDULength.
	MaxPDULength uint32

	ImplementationClassUID    string // defaults to DefaultImplementationClassUID
	ImplementationVersionName string // defaults to DefaultImplementationVersionName

	AsyncOperationsWindow *pdu.AsyncOperationsWindow
	UserIdentity          *pdu.UserIdentityRQ
}

// BuildAssociateRQ assembles an association request, assigning odd context
// ids in proposal order.
func BuildAssociateRQ(cfg RequestConfig) (*pdu.AAssociateRQ, error) {
	if len(cfg.Contexts) == 0 {
		return nil, dicomerr.ErrNoPresentationCtx
	}
	if len(cfg.Contexts) > MaxPresentationContexts {
		return nil, dicomerr.ErrTooManyContexts
	}

	maxPDU := cfg.MaxPDULength
	if maxPDU == 0 {
		maxPDU = pdu.DefaultMaxPDULength
	}
	implClass := cfg.ImplementationClassUID
	if implClass == "" {
		implClass = DefaultImplementationClassUID
	}
	implVersion := cfg.ImplementationVersionName
	if implVersion == "" {
		implVersion = DefaultImplementationVersionName
	}

	rq := &pdu.AAssociateRQ{
		ProtocolVersion:    pdu.CurrentProtocolVersion,
		CalledAETitle:      cfg.CalledAETitle,
		CallingAETitle:     cfg.CallingAETitle,
		ApplicationContext: types.ApplicationContextUID,
		UserInformation: pdu.UserInformation{
			MaximumLength:             maxPDU,
			ImplementationClassUID:    implClass,
			ImplementationVersionName: implVersion,
			AsyncOperationsWindow:     cfg.AsyncOperationsWindow,
			UserIdentityRQ:            cfg.UserIdentity,
		},
	}

	for i, ctx := range cfg.Contexts {
		rq.PresentationContexts = append(rq.PresentationContexts, &pdu.PresentationContextRQ{
			ContextID:        byte(2*i + 1),
			AbstractSyntax:   ctx.AbstractSyntax,
			TransferSyntaxes: ctx.TransferSyntaxes,
		})
		if ctx.SCURole || ctx.SCPRole {
			rq.UserInformation.RoleSelections = append(rq.UserInformation.RoleSelections, &pdu.RoleSelection{
				SOPClassUID: ctx.AbstractSyntax,
				SCURole:     roleByte(ctx.SCURole),
				SCPRole:     roleByte(ctx.SCPRole),
			})
		}
	}

	return rq, nil
}

// UserIdentityValidator decides whether a presented user identity is
// acceptable and supplies the positive-response payload for identity types
// that request one.
type UserIdentityValidator func(identity *pdu.UserIdentityRQ) (serverResponse []byte, ok bool)

// AcceptorConfig parameterizes request evaluation on the acceptor side.
type AcceptorConfig struct {
	// AETitle is the called AE title this acceptor answers to. Empty
	// accepts any called title.
	AETitle string

	// AllowedCallingAETitles restricts who may connect. Empty allows any.
	AllowedCallingAETitles []string

	SupportedContexts []SupportedContext

	// MaxPDULength advertised to the peer. Defaults to
	// pdu.DefaultMaxPDULength.
	MaxPDULength uint32

	ImplementationClassUID    string
	ImplementationVersionName string

	// ValidateUserIdentity, when set, decides whether the presented
	// identity is acceptable. When nil, any identity is accepted with an
	// empty response.
	ValidateUserIdentity UserIdentityValidator
}

// Outcome is the result of evaluating an A-ASSOCIATE-RQ: exactly one of AC
// or RJ is set.
type Outcome struct {
	AC       *pdu.AAssociateAC
	RJ       *pdu.AAssociateRJ
	Contexts []*NegotiatedContext
}

// Accepted reports whether the association was accepted.
func (o *Outcome) Accepted() bool { return o.AC != nil }

// Evaluate applies AE title checks, protocol version checks and presentation
// negotiation to an incoming request, producing the A-ASSOCIATE-AC or -RJ to
// send back. The reject triples follow PS3.8 Table 9-21.
func Evaluate(cfg AcceptorConfig, rq *pdu.AAssociateRQ) *Outcome {
	if rq.ProtocolVersion&0x0001 == 0 {
		return reject(dicomerr.RejectedPermanent, dicomerr.RejectSourceServiceProviderACSE, dicomerr.RejectReasonProtocolVersionNotSupported)
	}
	if rq.ApplicationContext != types.ApplicationContextUID {
		return reject(dicomerr.RejectedPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonApplicationContextNotSupported)
	}
	if cfg.AETitle != "" && rq.CalledAETitle != cfg.AETitle {
		return reject(dicomerr.RejectedPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonCalledAETitleNotRecognized)
	}
	if len(cfg.AllowedCallingAETitles) > 0 && !contains(cfg.AllowedCallingAETitles, rq.CallingAETitle) {
		return reject(dicomerr.RejectedPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonCallingAETitleNotRecognized)
	}

	results, roleEchoes, err := Negotiate(rq.PresentationContexts, rq.UserInformation.RoleSelections, cfg.SupportedContexts)
	if err != nil {
		return reject(dicomerr.RejectedPermanent, dicomerr.RejectSourceServiceProviderPresentation, dicomerr.RejectReasonLocalLimitExceeded)
	}

	accepted := 0
	for _, r := range results {
		if r.Accepted() {
			accepted++
		}
	}
	if accepted == 0 {
		return reject(dicomerr.RejectedPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonNoReasonGiven)
	}

	var identityAC *pdu.UserIdentityAC
	if identity := rq.UserInformation.UserIdentityRQ; identity != nil {
		response := []byte(nil)
		ok := true
		if cfg.ValidateUserIdentity != nil {
			response, ok = cfg.ValidateUserIdentity(identity)
		}
		if !ok {
			return reject(dicomerr.RejectedPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonNoReasonGiven)
		}
		if identity.PositiveResponseRequested {
			identityAC = &pdu.UserIdentityAC{ServerResponse: response}
		}
	}

	maxPDU := cfg.MaxPDULength
	if maxPDU == 0 {
		maxPDU = pdu.DefaultMaxPDULength
	}
	implClass := cfg.ImplementationClassUID
	if implClass == "" {
		implClass = DefaultImplementationClassUID
	}
	implVersion := cfg.ImplementationVersionName
	if implVersion == "" {
		implVersion = DefaultImplementationVersionName
	}

	ac := &pdu.AAssociateAC{
		ProtocolVersion:    pdu.CurrentProtocolVersion,
		CalledAETitle:      rq.CalledAETitle,
		CallingAETitle:     rq.CallingAETitle,
		ApplicationContext: types.ApplicationContextUID,
		UserInformation: pdu.UserInformation{
			MaximumLength:             maxPDU,
			ImplementationClassUID:    implClass,
			ImplementationVersionName: implVersion,
			RoleSelections:            roleEchoes,
			UserIdentityAC:            identityAC,
		},
	}
	for _, r := range results {
		ac.PresentationContexts = append(ac.PresentationContexts, &pdu.PresentationContextAC{
			ContextID:      r.ContextID,
			Result:         r.Result,
			TransferSyntax: r.TransferSyntax,
		})
	}

	return &Outcome{AC: ac, Contexts: results}
}

func reject(result dicomerr.RejectResult, source dicomerr.RejectSource, reason dicomerr.RejectReason) *Outcome {
	return &Outcome{RJ: &pdu.AAssociateRJ{
		Result: byte(result),
		Source: byte(source),
		Reason: byte(reason),
	}}
}

// RejectionError converts a received A-ASSOCIATE-RJ into the error surfaced
// to the requestor.
func RejectionError(rj *pdu.AAssociateRJ) *dicomerr.AssociationError {
	return dicomerr.NewAssociationError(
		dicomerr.RejectResult(rj.Result),
		dicomerr.RejectSource(rj.Source),
		dicomerr.RejectReason(rj.Reason),
		"peer rejected association",
	)
}
