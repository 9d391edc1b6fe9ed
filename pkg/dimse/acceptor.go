package dimse

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

type assocState int

const (
	stateIdle assocState = iota
	stateNegotiating
	stateEstablished
	stateReleasing
	stateAborted
	stateClosed
)

func (s assocState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateNegotiating:
		return "negotiating"
	case stateEstablished:
		return "established"
	case stateReleasing:
		return "releasing"
	case stateAborted:
		return "aborted"
	default:
		return "closed"
	}
}

// acceptor holds the per-connection state of one association.
type acceptor struct {
	server  *Server
	conn    net.Conn
	logger  zerolog.Logger
	state   assocState
	info    AssociationInfo
	summary Summary

	// reassembly of the message in progress
	command        []byte
	pending        *Command
	pendingContext byte
	data           []byte
}

func (a *acceptor) run(ctx context.Context) {
	defer func() {
		last := a.state
		a.state = stateClosed
		a.summary.Duration = time.Since(a.info.StartedAt)
		_ = a.conn.Close()

		ev := a.logger.Info()
		if a.summary.Err != nil {
			ev = a.logger.Warn().Err(a.summary.Err)
		}
		ev.Str("end_state", string(a.summary.State)).
			Str("last_state", last.String()).
			Int("received", a.summary.Received).
			Int("failed", a.summary.Failed).
			Dur("duration", a.summary.Duration).
			Msg("association closed")

		if a.server.handler != nil {
			a.server.handler.HandleClose(context.WithoutCancel(ctx), &a.info, a.summary)
		}
	}()

	if !a.negotiate(ctx) {
		return
	}
	a.serve(ctx)
}

// negotiate handles the A-ASSOCIATE-RQ and answers with AC or RJ. It reports
// whether the association was established.
func (a *acceptor) negotiate(ctx context.Context) bool {
	cfg := a.server.config

	_ = a.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	pduType, body, err := readPDU(a.conn, 0)
	if err != nil {
		a.fail(EndDropped, err)
		return false
	}
	if pduType != PDUAssociateRQ {
		a.abort(AbortReasonUnexpectedPDU, ProtocolError.New("expected A-ASSOCIATE-RQ, got %s", pduName(pduType)))
		return false
	}

	a.state = stateNegotiating
	rq, err := ParseAssociateRQ(body)
	if err != nil {
		a.abort(AbortReasonInvalidParameter, err)
		return false
	}
	a.info.CallingAE = rq.CallingAE
	a.info.CalledAE = rq.CalledAE
	a.info.PeerMaxPDU = rq.MaxPDULength
	a.logger = a.logger.With().Str("calling_ae", rq.CallingAE).Str("called_ae", rq.CalledAE).Logger()

	if rq.ApplicationContext != ApplicationContextUID {
		return a.reject(RejectReasonAppContextNotSupported, "unsupported application context %q", rq.ApplicationContext)
	}
	if cfg.StrictCalledAE && rq.CalledAE != cfg.AETitle {
		return a.reject(RejectReasonCalledAENotRecognized, "called AE %q is not %q", rq.CalledAE, cfg.AETitle)
	}
	if a.server.resolver != nil {
		tenantID, err := a.server.resolver.Resolve(ctx, rq.CallingAE, rq.CalledAE, a.info.RemoteAddr)
		if err != nil {
			return a.reject(RejectReasonCallingAENotRecognized, "calling AE %q: %v", rq.CallingAE, err)
		}
		a.info.TenantID = tenantID
		a.logger = a.logger.With().Str("tenant_id", tenantID).Logger()
	}

	ac := &AssociateAC{
		CalledAE:               rq.CalledAE,
		CallingAE:              rq.CallingAE,
		ApplicationContext:     ApplicationContextUID,
		MaxPDULength:           cfg.MaxPDULength,
		ImplementationClassUID: ImplementationClassUID,
		ImplementationVersion:  ImplementationVersionName,
	}
	acceptable := AcceptableTransferSyntaxes(cfg.UncompressedOnly)
	for _, pc := range rq.PresentationContexts {
		ac.PresentationContexts = append(ac.PresentationContexts, a.negotiateContext(pc, acceptable))
	}

	_ = a.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	if err := writePDU(a.conn, PDUAssociateAC, ac.Marshal()); err != nil {
		a.fail(EndDropped, err)
		return false
	}

	a.state = stateEstablished
	a.logger.Info().Int("contexts", len(a.info.Contexts)).Uint32("peer_max_pdu", rq.MaxPDULength).Msg("association established")
	return true
}

// negotiateContext picks the first proposed transfer syntax we accept.
func (a *acceptor) negotiateContext(pc PresentationContextRQ, acceptable []string) PresentationContextAC {
	if !a.server.acceptsAbstractSyntax(pc.AbstractSyntax) {
		return PresentationContextAC{ID: pc.ID, Result: ResultAbstractSyntaxNotSupported, TransferSyntax: ImplicitVRLittleEndian}
	}
	for _, proposed := range pc.TransferSyntaxes {
		for _, ts := range acceptable {
			if proposed == ts {
				a.info.Contexts[pc.ID] = ts
				return PresentationContextAC{ID: pc.ID, Result: ResultAcceptance, TransferSyntax: ts}
			}
		}
	}
	return PresentationContextAC{ID: pc.ID, Result: ResultTransferSyntaxNotSupported, TransferSyntax: ImplicitVRLittleEndian}
}

// serve is the established-state PDU loop.
func (a *acceptor) serve(ctx context.Context) {
	cfg := a.server.config
	for {
		_ = a.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		pduType, body, err := readPDU(a.conn, cfg.MaxPDULength)
		if err != nil {
			switch {
			case ProtocolError.Has(err):
				a.abort(AbortReasonInvalidParameter, err)
			case isTimeout(err):
				a.abort(AbortReasonNotSpecified, err)
			default:
				a.fail(EndDropped, err)
			}
			return
		}

		switch pduType {
		case PDUPData:
			if err := a.handlePData(ctx, body); err != nil {
				a.abort(AbortReasonInvalidParameter, err)
				return
			}
		case PDUReleaseRQ:
			a.release(ctx)
			return
		case PDUAbort:
			a.state = stateAborted
			a.summary.State = EndAborted
			a.logger.Debug().Msg("association aborted by peer")
			return
		default:
			a.abort(AbortReasonUnexpectedPDU, ProtocolError.New("unexpected %s on established association", pduName(pduType)))
			return
		}
	}
}

func (a *acceptor) handlePData(ctx context.Context, body []byte) error {
	pdvs, err := parsePData(body)
	if err != nil {
		return err
	}
	for _, pdv := range pdvs {
		if _, ok := a.info.Contexts[pdv.ContextID]; !ok {
			return ProtocolError.New("PDV on presentation context %d which was not accepted", pdv.ContextID)
		}
		if pdv.Command {
			err = a.handleCommandFragment(ctx, pdv)
		} else {
			err = a.handleDataFragment(ctx, pdv)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *acceptor) handleCommandFragment(ctx context.Context, pdv PDV) error {
	if a.pending != nil {
		return ProtocolError.New("command fragment while data set of message %d is incomplete", a.pending.MessageID)
	}
	a.command = append(a.command, pdv.Data...)
	if !pdv.Last {
		return nil
	}

	cmd, err := DecodeCommand(a.command)
	a.command = nil
	if err != nil {
		return err
	}

	switch {
	case cmd.IsEcho():
		a.summary.Echoes++
		rsp := cmd.Response(StatusSuccess)
		if rsp.AffectedSOPClassUID == "" {
			rsp.AffectedSOPClassUID = VerificationSOPClass
		}
		a.logger.Debug().Uint16("message_id", cmd.MessageID).Msg("C-ECHO")
		return a.respond(pdv.ContextID, rsp)
	case !cmd.HasDataSet():
		a.logger.Warn().Uint16("command_field", cmd.CommandField).Uint16("message_id", cmd.MessageID).Msg("unsupported command without data set")
		return a.respond(pdv.ContextID, cmd.Response(StatusUnrecognizedOperation))
	default:
		// any other command carrying a data set is a C-STORE
		if cmd.AffectedSOPClassUID == "" || cmd.AffectedSOPInstanceUID == "" {
			return ProtocolError.New("C-STORE message %d without affected SOP class/instance UID", cmd.MessageID)
		}
		a.pending = cmd
		a.pendingContext = pdv.ContextID
		return nil
	}
}

func (a *acceptor) handleDataFragment(ctx context.Context, pdv PDV) error {
	if a.pending == nil {
		return ProtocolError.New("data fragment without a preceding command")
	}
	if pdv.ContextID != a.pendingContext {
		return ProtocolError.New("data fragment on context %d, command was on %d", pdv.ContextID, a.pendingContext)
	}
	a.data = append(a.data, pdv.Data...)
	if limit := a.server.config.MaxInstanceSize; limit > 0 && int64(len(a.data)) > limit {
		return ProtocolError.New("instance %s exceeds %d bytes", a.pending.AffectedSOPInstanceUID, limit)
	}
	if !pdv.Last {
		return nil
	}

	cmd := a.pending
	req := &StoreRequest{
		Association:       &a.info,
		MessageID:         cmd.MessageID,
		SOPClassUID:       cmd.AffectedSOPClassUID,
		SOPInstanceUID:    cmd.AffectedSOPInstanceUID,
		TransferSyntaxUID: a.info.Contexts[pdv.ContextID],
		Data:              a.data,
	}
	a.pending = nil
	a.data = nil

	a.summary.Received++
	if a.server.handler != nil {
		if err := a.server.handler.HandleStore(ctx, req); err != nil {
			a.summary.Failed++
			a.logger.Error().Err(err).
				Str("sop_uid", req.SOPInstanceUID).
				Uint16("message_id", req.MessageID).
				Msg("failed to process instance")
		}
	}

	rsp := cmd.Response(StatusSuccess)
	if cmd.CommandField == CStoreRQ {
		rsp.CommandField = CStoreRSP
	}
	return a.respond(pdv.ContextID, rsp)
}

func (a *acceptor) respond(contextID byte, rsp *Command) error {
	_ = a.conn.SetWriteDeadline(time.Now().Add(a.server.config.WriteTimeout))
	return writePData(a.conn, contextID, true, rsp.Encode(), a.info.PeerMaxPDU)
}

func (a *acceptor) release(ctx context.Context) {
	a.state = stateReleasing
	a.summary.State = EndReleased

	if a.pending != nil {
		a.logger.Warn().Str("sop_uid", a.pending.AffectedSOPInstanceUID).Msg("release with incomplete data set")
	}
	if a.server.handler != nil {
		if err := a.server.handler.HandleRelease(ctx, &a.info); err != nil {
			a.logger.Error().Err(err).Msg("release flush failed")
		}
	}

	_ = a.conn.SetWriteDeadline(time.Now().Add(a.server.config.WriteTimeout))
	if err := writePDU(a.conn, PDUReleaseRP, releaseBody()); err != nil {
		a.summary.Err = err
	}
}

func (a *acceptor) reject(reason byte, format string, args ...interface{}) bool {
	err := ProtocolError.New(format, args...)
	a.summary.State = EndRejected
	a.summary.Err = err

	rj := &AssociateRJ{Result: RejectPermanent, Source: RejectSourceServiceUser, Reason: reason}
	_ = a.conn.SetWriteDeadline(time.Now().Add(a.server.config.WriteTimeout))
	_ = writePDU(a.conn, PDUAssociateRJ, rj.Marshal())
	return false
}

func (a *acceptor) abort(reason byte, err error) {
	a.state = stateAborted
	a.summary.State = EndAborted
	a.summary.Err = err

	_ = a.conn.SetWriteDeadline(time.Now().Add(a.server.config.WriteTimeout))
	_ = writePDU(a.conn, PDUAbort, abortBody(AbortSourceServiceProvider, reason))
}

func (a *acceptor) fail(state EndState, err error) {
	a.summary.State = state
	if !errors.Is(err, io.EOF) {
		a.summary.Err = err
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
