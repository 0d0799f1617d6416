// Package ash implements the Attribute Service Handler: the
// wireless-protocol-facing state machine that exposes the gate
// controller's characteristic table, runs the challenge-response
// authentication, enforces permissions, and services management
// writes. One Session exists per accepted connection; its dispatch
// loop is modeled on the per-command state machines elsewhere in this
// codebase (compare nfc/type4's per-APDU switch).
package ash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/cleverfox/gatekeeper/internal/audit"
	"github.com/cleverfox/gatekeeper/internal/config"
	"github.com/cleverfox/gatekeeper/internal/credential"
	"github.com/cleverfox/gatekeeper/internal/gate"
	"github.com/cleverfox/gatekeeper/internal/keystore"
)

// Management result codes, written to the management_result
// characteristic (§7).
const (
	ResultOK       byte = 0
	ResultNotAdmin byte = 1
	ResultFlash    byte = 2
	ResultNotFound byte = 3
	ResultInvalid  byte = 4
)

// Management action codes (characteristic 1100).
const (
	ActionAddKey   byte = 0x01
	ActionDelKey   byte = 0x02
	ActionGetKey   byte = 0x03
	ActionSetParam byte = 0x10
	ActionGetParam byte = 0x11
	ActionSetName  byte = 0x20
)

// permHighNibbleMask covers the four high-order permission/reserved
// bits of a credential's type-and-permission byte (ADMIN,
// ADMIN_OF_ADMINS, SET_PARAM_ADMIN, and reserved bit 0x10). Reserved
// bits 0x04 and 0x08 are not covered.
const permHighNibbleMask = 0xF0

// Session holds the per-connection attribute state (§3). The zero
// value is not usable; construct with NewSession.
type Session struct {
	ServerNonce  [32]byte
	ClientNonce  [32]byte
	ClientPubkey        credential.Record
	ClientAuthenticated bool
	ClientKeyAck        bool
	Perm                byte
	AuthAction          uint16
	LogIndex            uint16

	ManagementKey      credential.Record
	ManagementParamID  byte
	ManagementParamVal uint32
	ManagementName     string
	ManagementResult   byte
}

// AdminMode reports whether bit 7 of the low byte of AuthAction is set
// while the client is an authenticated admin, per the session-timer
// hold rule (§4.5).
func (s *Session) AdminMode() bool {
	return s.ClientAuthenticated && s.Perm&credential.PermAdmin != 0 && s.AuthAction&0x80 != 0
}

// NewSession resets session state for a freshly accepted connection,
// sampling server_nonce from rnd (typically crypto/rand.Reader).
func NewSession(rnd io.Reader) (*Session, error) {
	s := &Session{AuthAction: 1}
	if _, err := io.ReadFull(rnd, s.ServerNonce[:]); err != nil {
		return nil, errors.New("ash: failed to sample server nonce")
	}
	return s, nil
}

// Handler wires a Session's reads and writes to the credential store,
// configuration store, and audit log, and dispatches authenticated
// commands to the gate FSM. One Handler is shared by every connection;
// it holds no per-connection state itself.
type Handler struct {
	KS       *keystore.Store
	CS       *config.Store
	Log      *audit.Log
	Commands chan<- gate.Command

	// ProgrammingMode reflects the boot-time GPIO sample (§6): when
	// true, client_pubkey writes are treated as synthetic admin
	// regardless of the key store's contents.
	ProgrammingMode bool

	// PeerAddr and Now feed audit entries; Now returns device uptime
	// in milliseconds.
	PeerAddr [6]byte
	Now      func() uint64
}

// WriteClientPubkey implements the client_pubkey characteristic write
// (§4.5).
func (h *Handler) WriteClientPubkey(s *Session, payload []byte) {
	s.ClientPubkey = credential.FromPayload(payload)
	if h.ProgrammingMode {
		s.Perm = credential.PermAdmin
	} else {
		s.Perm = h.KS.Lookup(s.ClientPubkey)
	}
	s.ClientKeyAck = s.Perm != 0
}

// PermCharacteristic returns the value exposed on the perm read
// characteristic: the high six bits only, with the key-type tag
// masked off.
func (s *Session) PermCharacteristic() byte {
	return s.Perm &^ 0x03
}

// WriteClientNonce implements the client_nonce characteristic write.
func (h *Handler) WriteClientNonce(s *Session, payload []byte) {
	n := copy(s.ClientNonce[:], payload)
	for ; n < len(s.ClientNonce); n++ {
		s.ClientNonce[n] = 0
	}
}

// WriteAuthAction implements the auth_action characteristic write: a
// little-endian u16.
func (h *Handler) WriteAuthAction(s *Session, payload []byte) {
	if len(payload) != 2 {
		return
	}
	s.AuthAction = binary.LittleEndian.Uint16(payload)
}

// WriteLogIndex implements the log_index characteristic write: a
// little-endian u16, newest-first (§3).
func (h *Handler) WriteLogIndex(s *Session, payload []byte) {
	if len(payload) != 2 {
		return
	}
	s.LogIndex = binary.LittleEndian.Uint16(payload)
}

// ReadLogEntry implements the log_entry characteristic read.
func (h *Handler) ReadLogEntry(s *Session) [audit.EntryLen]byte {
	return h.Log.EntryBytes(int(s.LogIndex))
}

// ReadLogCount implements the log_count characteristic read.
func (h *Handler) ReadLogCount() uint16 {
	return uint16(h.Log.Count())
}

// Authenticate implements the authenticate characteristic write
// (§4.5): verifies the signature, appends an audit entry
// unconditionally, and on success dispatches the FSM command selected
// by auth_action. It reports the verification result.
func (h *Handler) Authenticate(s *Session, sig []byte) bool {
	digest := sha256.Sum256(append(append([]byte(nil), s.ServerNonce[:]...), s.ClientNonce[:]...))
	ok := s.ClientPubkey.Verify(digest[:], sig)
	s.ClientAuthenticated = ok

	h.Log.Push(audit.Entry{
		Success:  ok,
		Record:   s.ClientPubkey,
		UptimeMS: h.uptimeMS(),
		PeerAddr: h.PeerAddr,
		Action:   s.AuthAction,
	})

	if ok {
		h.dispatchAuthAction(s)
	}
	return ok
}

func (h *Handler) uptimeMS() uint64 {
	if h.Now == nil {
		return 0
	}
	return h.Now()
}

func (h *Handler) dispatchAuthAction(s *Session) {
	switch s.AuthAction & 0x7F {
	case 1:
		h.Commands <- gate.CmdOpen
	case 2:
		h.Commands <- gate.CmdOpen
		if s.Perm > 3 {
			h.Commands <- gate.CmdStopAutoClose
		}
	case 3:
		h.Commands <- gate.CmdClose
	}
}

// WriteManagementKey, WriteManagementParamID, WriteManagementParamVal,
// and WriteManagementName populate the management scratch registers;
// the characteristics are read/write so a client can also use them as
// a readback buffer (e.g. after GET_KEY).
func (h *Handler) WriteManagementKey(s *Session, payload []byte) {
	s.ManagementKey = credential.FromPayload(payload)
}

func (h *Handler) WriteManagementParamID(s *Session, payload []byte) {
	if len(payload) != 1 {
		return
	}
	s.ManagementParamID = payload[0]
}

func (h *Handler) WriteManagementParamVal(s *Session, payload []byte) {
	if len(payload) != 4 {
		return
	}
	s.ManagementParamVal = binary.LittleEndian.Uint32(payload)
}

func (h *Handler) WriteManagementName(s *Session, payload []byte) {
	n := len(payload)
	for i, b := range payload {
		if b == 0 {
			n = i
			break
		}
	}
	s.ManagementName = string(payload[:n])
}

// Management implements the management characteristic write (§4.5):
// dispatches one of the ADD_KEY/DEL_KEY/GET_KEY/SET_PARAM/GET_PARAM/
// SET_NAME actions and returns the result code, which the caller is
// responsible for writing to management_result and notifying.
func (h *Handler) Management(s *Session, action byte) byte {
	if !(s.ClientAuthenticated && s.Perm&credential.PermAdmin != 0) {
		s.ManagementResult = ResultNotAdmin
		return ResultNotAdmin
	}

	var result byte
	switch action {
	case ActionAddKey:
		result = h.addKey(s)
	case ActionDelKey:
		result = h.delKey(s)
	case ActionGetKey:
		result = h.getKey(s)
	case ActionSetParam:
		result = h.setParam(s)
	case ActionGetParam:
		result = h.getParam(s)
	case ActionSetName:
		result = h.setName(s)
	default:
		result = ResultInvalid
	}
	s.ManagementResult = result
	return result
}

func (h *Handler) addKey(s *Session) byte {
	key := s.ManagementKey
	if key.Perm()&permHighNibbleMask != 0 && s.Perm&credential.PermAdminOfAdmins == 0 {
		return ResultInvalid
	}
	switch h.KS.Add(key) {
	case keystore.Added:
		return ResultOK
	case keystore.RejectedDuplicate, keystore.RejectedFull:
		return ResultInvalid
	default:
		return ResultFlash
	}
}

func (h *Handler) delKey(s *Session) byte {
	key := s.ManagementKey
	stored := h.KS.Lookup(key)
	if stored == 0 {
		return ResultNotFound
	}
	storedPerm := credential.Record{stored}.Perm()
	if storedPerm&permHighNibbleMask != 0 && s.Perm&credential.PermAdminOfAdmins == 0 {
		return ResultNotAdmin
	}
	switch h.KS.Del(key) {
	case keystore.Deleted:
		return ResultOK
	case keystore.NotFound:
		return ResultNotFound
	default:
		return ResultFlash
	}
}

func (h *Handler) getKey(s *Session) byte {
	idx := int(s.ManagementParamVal)
	s.ManagementParamVal = uint32(h.KS.Len())
	rec, ok := h.KS.Enumerate(idx)
	if !ok {
		return ResultNotFound
	}
	s.ManagementKey = rec
	return ResultOK
}

func (h *Handler) setParam(s *Session) byte {
	if s.Perm&credential.PermSetParamAdmin == 0 {
		return ResultNotAdmin
	}
	if err := h.CS.SetU32(s.ManagementParamID, s.ManagementParamVal); err != nil {
		return ResultFlash
	}
	return ResultOK
}

func (h *Handler) getParam(s *Session) byte {
	s.ManagementParamVal = h.CS.GetU32(s.ManagementParamID, 0)
	return ResultOK
}

func (h *Handler) setName(s *Session) byte {
	if err := h.CS.SetName(s.ManagementName); err != nil {
		return ResultFlash
	}
	return ResultOK
}

// RandReader is crypto/rand.Reader, exposed so callers constructing a
// Session don't need their own import.
var RandReader = rand.Reader
