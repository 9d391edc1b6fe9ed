package dimse

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ServerConfig holds configuration for the association acceptor (SCP)
type ServerConfig struct {
	AETitle string
	// StrictCalledAE rejects associations addressed to another AE title.
	StrictCalledAE bool
	// MaxPDULength is announced to peers and bounds incoming P-DATA PDUs.
	MaxPDULength uint32
	// MaxInstanceSize bounds one reassembled data set; 0 means unlimited.
	MaxInstanceSize int64
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	// UncompressedOnly restricts negotiation to Implicit and Explicit VR Little Endian.
	UncompressedOnly bool
	// ExtraAbstractSyntaxes are accepted in addition to Verification and storage.
	ExtraAbstractSyntaxes []string
}

// AssociationInfo describes one accepted association.
type AssociationInfo struct {
	ID         string
	CallingAE  string
	CalledAE   string
	RemoteAddr string
	TenantID   string
	PeerMaxPDU uint32
	StartedAt  time.Time
	Contexts   map[byte]string // context id -> transfer syntax
}

// StoreRequest is one reassembled C-STORE.
type StoreRequest struct {
	Association       *AssociationInfo
	MessageID         uint16
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	Data              []byte
}

// EndState is how an association terminated.
type EndState string

const (
	EndReleased EndState = "released"
	EndAborted  EndState = "aborted"
	EndRejected EndState = "rejected"
	EndDropped  EndState = "dropped"
)

// Summary is reported once per connection when it closes.
type Summary struct {
	State    EndState
	Received int
	Failed   int
	Echoes   int
	Duration time.Duration
	Err      error
}

// InstanceHandler receives the instances of an association. HandleStore
// failures are instance-fatal only: the sender still gets a success status.
type InstanceHandler interface {
	HandleStore(ctx context.Context, req *StoreRequest) error
	// HandleRelease runs before A-RELEASE-RP is sent.
	HandleRelease(ctx context.Context, info *AssociationInfo) error
	HandleClose(ctx context.Context, info *AssociationInfo, summary Summary)
}

// TenantResolver maps the calling AE of a new association to a tenant. An
// error rejects the association.
type TenantResolver interface {
	Resolve(ctx context.Context, callingAE, calledAE, remoteAddr string) (string, error)
}

// Server accepts associations, one goroutine per connection.
type Server struct {
	config   ServerConfig
	resolver TenantResolver
	handler  InstanceHandler
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// NewServer creates a new association acceptor
func NewServer(config ServerConfig, resolver TenantResolver, handler InstanceHandler, logger zerolog.Logger) *Server {
	if config.MaxPDULength == 0 {
		config.MaxPDULength = 16384
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	return &Server{
		config:   config,
		resolver: resolver,
		handler:  handler,
		logger:   logger.With().Str("component", "scp").Str("ae_title", config.AETitle).Logger(),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// open associations to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("DICOM SCP listening")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept failed")
				time.Sleep(tempDelay)
				continue
			}
			s.wg.Wait()
			return err
		}
		tempDelay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleConn(ctx, conn)
		}()
	}
}

// HandleConn runs the association state machine on one connection and
// closes it when done.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	a := &acceptor{
		server: s,
		conn:   conn,
		state:  stateIdle,
		info: AssociationInfo{
			ID:         uuid.NewString(),
			RemoteAddr: conn.RemoteAddr().String(),
			StartedAt:  time.Now(),
			Contexts:   make(map[byte]string),
		},
	}
	a.logger = s.logger.With().Str("association_id", a.info.ID).Str("remote", a.info.RemoteAddr).Logger()

	// cancellation unblocks any pending read
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	a.run(ctx)
}

func (s *Server) acceptsAbstractSyntax(uid string) bool {
	if uid == VerificationSOPClass || IsStorageSOPClass(uid) {
		return true
	}
	for _, extra := range s.config.ExtraAbstractSyntaxes {
		if extra == uid {
			return true
		}
	}
	return false
}
