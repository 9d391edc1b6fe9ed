package dimse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/errs"
)

// ErrAssociationRejected is returned by Connect when the peer answers with
// A-ASSOCIATE-RJ.
var ErrAssociationRejected = errs.Class("association rejected")

// ErrNotConnected is returned by requests made on a closed association.
var ErrNotConnected = errors.New("association is not established")

// Association represents a DICOM association initiated by this node (SCU)
type Association struct {
	conn        net.Conn
	config      AssociationConfig
	peerMaxPDU  uint32
	accepted    map[string]acceptedContext
	mu          sync.Mutex
	isConnected bool
	nextMessage uint16
}

type acceptedContext struct {
	id             byte
	transferSyntax string
}

// AssociationConfig holds configuration for DICOM associations
type AssociationConfig struct {
	Host         string
	Port         int
	CallingAET   string
	CalledAET    string
	Timeout      time.Duration
	MaxPDULength uint32

	// AbstractSyntaxes proposed, one presentation context each.
	// Defaults to the Verification SOP Class.
	AbstractSyntaxes []string
	// TransferSyntaxes proposed for every context, in preference order.
	TransferSyntaxes []string
}

// NewAssociation creates a new DICOM association
func NewAssociation(config AssociationConfig) *Association {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxPDULength == 0 {
		config.MaxPDULength = 16384 // 16KB default
	}
	if len(config.AbstractSyntaxes) == 0 {
		config.AbstractSyntaxes = []string{VerificationSOPClass}
	}
	if len(config.TransferSyntaxes) == 0 {
		config.TransferSyntaxes = []string{ExplicitVRLittleEndian, ImplicitVRLittleEndian}
	}

	return &Association{
		config:   config,
		accepted: make(map[string]acceptedContext),
	}
}

// Connect establishes a DICOM association
func (a *Association) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isConnected {
		return nil
	}

	addr := net.JoinHostPort(a.config.Host, strconv.Itoa(a.config.Port))
	dialer := &net.Dialer{
		Timeout: a.config.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	a.conn = conn

	if err := a.negotiate(); err != nil {
		_ = conn.Close()
		a.conn = nil
		return err
	}

	a.isConnected = true
	return nil
}

func (a *Association) negotiate() error {
	rq := &AssociateRQ{
		CalledAE:               a.config.CalledAET,
		CallingAE:              a.config.CallingAET,
		ApplicationContext:     ApplicationContextUID,
		MaxPDULength:           a.config.MaxPDULength,
		ImplementationClassUID: ImplementationClassUID,
		ImplementationVersion:  ImplementationVersionName,
	}
	proposed := make(map[byte]string, len(a.config.AbstractSyntaxes))
	for i, abstract := range a.config.AbstractSyntaxes {
		id := byte(2*i + 1) // presentation context ids are odd
		proposed[id] = abstract
		rq.PresentationContexts = append(rq.PresentationContexts, PresentationContextRQ{
			ID:               id,
			AbstractSyntax:   abstract,
			TransferSyntaxes: a.config.TransferSyntaxes,
		})
	}

	if err := a.conn.SetDeadline(time.Now().Add(a.config.Timeout)); err != nil {
		return err
	}
	if err := writePDU(a.conn, PDUAssociateRQ, rq.Marshal()); err != nil {
		return fmt.Errorf("failed to send associate request: %w", err)
	}

	pduType, body, err := readPDU(a.conn, 0)
	if err != nil {
		return fmt.Errorf("failed to receive associate response: %w", err)
	}

	switch pduType {
	case PDUAssociateAC:
		ac, err := ParseAssociateAC(body)
		if err != nil {
			return err
		}
		a.peerMaxPDU = ac.MaxPDULength
		for _, pc := range ac.PresentationContexts {
			abstract, ok := proposed[pc.ID]
			if !ok || pc.Result != ResultAcceptance {
				continue
			}
			a.accepted[abstract] = acceptedContext{id: pc.ID, transferSyntax: pc.TransferSyntax}
		}
		if len(a.accepted) == 0 {
			_ = writePDU(a.conn, PDUAbort, abortBody(AbortSourceServiceUser, AbortReasonNotSpecified))
			return ErrAssociationRejected.New("no presentation context accepted")
		}
		return nil
	case PDUAssociateRJ:
		rj, err := ParseAssociateRJ(body)
		if err != nil {
			return err
		}
		return ErrAssociationRejected.New("result %d source %d reason %d", rj.Result, rj.Source, rj.Reason)
	default:
		return ProtocolError.New("unexpected %s during negotiation", pduName(pduType))
	}
}

// Close releases the association and closes the connection
func (a *Association) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isConnected {
		return nil
	}
	a.isConnected = false
	defer a.conn.Close()

	if err := a.conn.SetDeadline(time.Now().Add(a.config.Timeout)); err != nil {
		return err
	}
	if err := writePDU(a.conn, PDUReleaseRQ, releaseBody()); err != nil {
		return fmt.Errorf("failed to send release request: %w", err)
	}
	for {
		pduType, _, err := readPDU(a.conn, a.config.MaxPDULength)
		if err != nil {
			return fmt.Errorf("failed to receive release response: %w", err)
		}
		switch pduType {
		case PDUReleaseRP:
			return nil
		case PDUAbort:
			return ProtocolError.New("association aborted by peer during release")
		}
	}
}

// Abort sends A-ABORT and drops the connection without a release handshake.
func (a *Association) Abort() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isConnected {
		return nil
	}
	a.isConnected = false
	_ = a.conn.SetWriteDeadline(time.Now().Add(a.config.Timeout))
	_ = writePDU(a.conn, PDUAbort, abortBody(AbortSourceServiceUser, AbortReasonNotSpecified))
	return a.conn.Close()
}

// IsConnected checks if the association is still active
func (a *Association) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isConnected
}


// AcceptedTransferSyntax returns the transfer syntax the peer accepted for
// abstractSyntax. Data sent on that context must be encoded with it.
func (a *Association) AcceptedTransferSyntax(abstractSyntax string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pc, ok := a.accepted[abstractSyntax]
	return pc.transferSyntax, ok
}

// PeerMaxPDULength is the maximum P-DATA length announced by the peer.
func (a *Association) PeerMaxPDULength() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peerMaxPDU
}

// request sends a command (and optional data set) and waits for the response
// command. The caller must hold a.mu.
func (a *Association) request(ctx context.Context, abstractSyntax string, cmd *Command, data []byte) (*Command, error) {
	if !a.isConnected {
		return nil, ErrNotConnected
	}
	pc, ok := a.accepted[abstractSyntax]
	if !ok {
		return nil, fmt.Errorf("no accepted presentation context for %s", abstractSyntax)
	}
	if cmd.MessageID == 0 {
		a.nextMessage++
		cmd.MessageID = a.nextMessage
	}

	deadline := time.Now().Add(a.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := a.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := writePData(a.conn, pc.id, true, cmd.Encode(), a.peerMaxPDU); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	if cmd.HasDataSet() {
		if err := writePData(a.conn, pc.id, false, data, a.peerMaxPDU); err != nil {
			return nil, fmt.Errorf("failed to send data set: %w", err)
		}
	}

	var command []byte
	for {
		pduType, body, err := readPDU(a.conn, a.config.MaxPDULength)
		if err != nil {
			return nil, fmt.Errorf("failed to receive response: %w", err)
		}
		switch pduType {
		case PDUPData:
		case PDUAbort:
			a.isConnected = false
			_ = a.conn.Close()
			return nil, ProtocolError.New("association aborted by peer")
		default:
			return nil, ProtocolError.New("unexpected %s while waiting for response", pduName(pduType))
		}

		pdvs, err := parsePData(body)
		if err != nil {
			return nil, err
		}
		for _, pdv := range pdvs {
			if !pdv.Command {
				continue
			}
			command = append(command, pdv.Data...)
			if !pdv.Last {
				continue
			}
			rsp, err := DecodeCommand(command)
			if err != nil {
				return nil, err
			}
			if rsp.MessageIDBeingRespondedTo != cmd.MessageID {
				return nil, ProtocolError.New("response to message %d, expected %d", rsp.MessageIDBeingRespondedTo, cmd.MessageID)
			}
			return rsp, nil
		}
	}
}
