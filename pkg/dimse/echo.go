package dimse

import (
	"context"
	"fmt"
)

// CEcho performs a C-ECHO operation (DICOM ping)
func (a *Association) CEcho(ctx context.Context) error {
	rsp, err := a.Echo(ctx, 0)
	if err != nil {
		return err
	}
	if rsp.Status != StatusSuccess {
		return fmt.Errorf("C-ECHO failed with status: 0x%04x", rsp.Status)
	}
	return nil
}

// Echo sends a C-ECHO-RQ with the given message id (0 picks the next one)
// and returns the decoded response.
func (a *Association) Echo(ctx context.Context, messageID uint16) (*Command, error) {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rsp, err := a.request(ctx, VerificationSOPClass, &Command{
		CommandField:        CEchoRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: VerificationSOPClass,
		CommandDataSetType:  NoDataSet,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("C-ECHO: %w", err)
	}
	if rsp.CommandField != CEchoRSP {
		return nil, ProtocolError.New("C-ECHO answered with command field 0x%04x", rsp.CommandField)
	}
	return rsp, nil
}
