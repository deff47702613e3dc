package authx

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// ControlTypeAssuredReplicationResponse is the OID of the assured
// replication response control. The server attaches it to the response of a
// write operation to report how far the change had propagated when the
// requested assurance was evaluated.
const ControlTypeAssuredReplicationResponse = "1.3.6.1.4.1.30221.2.5.9"

// Control value field tags for the assured replication response control.
const (
	assuredTagLocalLevel      ber.Tag = 0
	assuredTagLocalSatisfied  ber.Tag = 1
	assuredTagLocalMessage    ber.Tag = 2
	assuredTagRemoteLevel     ber.Tag = 3
	assuredTagRemoteSatisfied ber.Tag = 4
	assuredTagRemoteMessage   ber.Tag = 5
	assuredTagCSN             ber.Tag = 6
	assuredTagServerResults   ber.Tag = 7
)

// Field tags of each per-server result element.
const (
	assuredServerResultTagCode     ber.Tag = 0
	assuredServerResultTagServerID ber.Tag = 1
	assuredServerResultTagMessage  ber.Tag = 2
)

// AssuredReplicationLocalLevel is the assurance level for replicas in the
// same location as the server that processed the change.
type AssuredReplicationLocalLevel int

const (
	LocalLevelNone                AssuredReplicationLocalLevel = 0
	LocalLevelReceivedAnyServer   AssuredReplicationLocalLevel = 1
	LocalLevelProcessedAllServers AssuredReplicationLocalLevel = 2
)

func (l AssuredReplicationLocalLevel) String() string {
	switch l {
	case LocalLevelNone:
		return "none"
	case LocalLevelReceivedAnyServer:
		return "received-any-server"
	case LocalLevelProcessedAllServers:
		return "processed-all-servers"
	default:
		return fmt.Sprintf("unknown local level (%d)", int(l))
	}
}

// AssuredReplicationRemoteLevel is the assurance level for replicas in other
// locations.
type AssuredReplicationRemoteLevel int

const (
	RemoteLevelNone                       AssuredReplicationRemoteLevel = 0
	RemoteLevelReceivedAnyRemoteLocation  AssuredReplicationRemoteLevel = 1
	RemoteLevelReceivedAllRemoteLocations AssuredReplicationRemoteLevel = 2
	RemoteLevelProcessedAllRemoteServers  AssuredReplicationRemoteLevel = 3
)

func (l AssuredReplicationRemoteLevel) String() string {
	switch l {
	case RemoteLevelNone:
		return "none"
	case RemoteLevelReceivedAnyRemoteLocation:
		return "received-any-remote-location"
	case RemoteLevelReceivedAllRemoteLocations:
		return "received-all-remote-locations"
	case RemoteLevelProcessedAllRemoteServers:
		return "processed-all-remote-servers"
	default:
		return fmt.Sprintf("unknown remote level (%d)", int(l))
	}
}

// AssuredReplicationServerResultCode describes the outcome of assurance
// processing with a single replication server.
type AssuredReplicationServerResultCode int

const (
	ServerResultComplete       AssuredReplicationServerResultCode = 0
	ServerResultTimeout        AssuredReplicationServerResultCode = 1
	ServerResultConflict       AssuredReplicationServerResultCode = 2
	ServerResultServerShutdown AssuredReplicationServerResultCode = 3
	ServerResultUnavailable    AssuredReplicationServerResultCode = 4
	ServerResultDuplicate      AssuredReplicationServerResultCode = 5
)

func (c AssuredReplicationServerResultCode) String() string {
	switch c {
	case ServerResultComplete:
		return "complete"
	case ServerResultTimeout:
		return "timeout"
	case ServerResultConflict:
		return "conflict"
	case ServerResultServerShutdown:
		return "server-shutdown"
	case ServerResultUnavailable:
		return "unavailable"
	case ServerResultDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("unknown server result code (%d)", int(c))
	}
}

// AssuredReplicationServerResult is the per-server component of an assured
// replication response control.
type AssuredReplicationServerResult struct {
	Code AssuredReplicationServerResultCode

	// ServerID is the replication server ID, or nil when the server did
	// not report one.
	ServerID *int16

	Message string
}

// AssuredReplicationResponseControl reports the state of replication
// assurance processing for a write operation. The satisfied flags are always
// present; the levels, messages, CSN and per-server results are only present
// when the server chose to include them.
type AssuredReplicationResponseControl struct {
	Criticality bool

	LocalLevel              *AssuredReplicationLocalLevel
	LocalAssuranceSatisfied bool
	LocalMessage            string

	RemoteLevel              *AssuredReplicationRemoteLevel
	RemoteAssuranceSatisfied bool
	RemoteMessage            string

	// CSN is the change sequence number of the associated change.
	CSN string

	// ServerResults holds the per-server outcomes in the order the server
	// reported them.
	ServerResults []AssuredReplicationServerResult
}

// GetControlType returns the OID of the control.
func (c *AssuredReplicationResponseControl) GetControlType() string {
	return ControlTypeAssuredReplicationResponse
}

// Encode returns the BER packet for the control.
func (c *AssuredReplicationResponseControl) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, ControlTypeAssuredReplicationResponse, "Control Type"))
	if c.Criticality {
		packet.AppendChild(ber.NewLDAPBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, c.Criticality, "Criticality"))
	}
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(c.encodeValue()), "Control Value"))
	return packet
}

func (c *AssuredReplicationResponseControl) encodeValue() []byte {
	value := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "assured replication response value")
	if c.LocalLevel != nil {
		value.AppendChild(contextEnumerated(assuredTagLocalLevel, int64(*c.LocalLevel), "localLevel"))
	}
	value.AppendChild(contextBoolean(assuredTagLocalSatisfied, c.LocalAssuranceSatisfied, "localAssuranceSatisfied"))
	if c.LocalMessage != "" {
		value.AppendChild(contextString(assuredTagLocalMessage, c.LocalMessage, "localMessage"))
	}
	if c.RemoteLevel != nil {
		value.AppendChild(contextEnumerated(assuredTagRemoteLevel, int64(*c.RemoteLevel), "remoteLevel"))
	}
	value.AppendChild(contextBoolean(assuredTagRemoteSatisfied, c.RemoteAssuranceSatisfied, "remoteAssuranceSatisfied"))
	if c.RemoteMessage != "" {
		value.AppendChild(contextString(assuredTagRemoteMessage, c.RemoteMessage, "remoteMessage"))
	}
	if c.CSN != "" {
		value.AppendChild(contextString(assuredTagCSN, c.CSN, "csn"))
	}
	if len(c.ServerResults) > 0 {
		results := contextSequence(assuredTagServerResults, "serverResults")
		for _, serverResult := range c.ServerResults {
			result := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "serverResult")
			result.AppendChild(contextEnumerated(assuredServerResultTagCode, int64(serverResult.Code), "resultCode"))
			if serverResult.ServerID != nil {
				result.AppendChild(contextInteger(assuredServerResultTagServerID, int64(*serverResult.ServerID), "serverID"))
			}
			if serverResult.Message != "" {
				result.AppendChild(contextString(assuredServerResultTagMessage, serverResult.Message, "message"))
			}
			results.AppendChild(result)
		}
		value.AppendChild(results)
	}
	return value.Bytes()
}

// String returns a human-readable description of the control.
func (c *AssuredReplicationResponseControl) String() string {
	s := fmt.Sprintf("AssuredReplicationResponseControl(localSatisfied=%t, remoteSatisfied=%t",
		c.LocalAssuranceSatisfied, c.RemoteAssuranceSatisfied)
	if c.LocalLevel != nil {
		s += ", localLevel=" + c.LocalLevel.String()
	}
	if c.RemoteLevel != nil {
		s += ", remoteLevel=" + c.RemoteLevel.String()
	}
	if c.CSN != "" {
		s += ", csn=" + c.CSN
	}
	if len(c.ServerResults) > 0 {
		s += fmt.Sprintf(", serverResults=%d", len(c.ServerResults))
	}
	return s + ")"
}

// DecodeAssuredReplicationResponseControl decodes the value of an assured
// replication response control.
func DecodeAssuredReplicationResponseControl(criticality bool, value []byte) (*AssuredReplicationResponseControl, error) {
	const name = "assured replication response control value"
	if len(value) == 0 {
		return nil, decodeErrorf("the assured replication response control does not include a value")
	}
	children, err := decodeSequence(value, name)
	if err != nil {
		return nil, err
	}
	c := &AssuredReplicationResponseControl{Criticality: criticality}
	localSatisfiedSeen := false
	remoteSatisfiedSeen := false
	for _, child := range children {
		if child.ClassType != ber.ClassContext {
			return nil, unknownFieldError(name, child)
		}
		if child.TagType == ber.TypeConstructed {
			if child.Tag != assuredTagServerResults {
				return nil, unknownFieldError(name, child)
			}
			serverResults, err := decodeServerResults(child, name)
			if err != nil {
				return nil, err
			}
			c.ServerResults = serverResults
			continue
		}
		switch child.Tag {
		case assuredTagLocalLevel:
			raw, err := fieldInt64(child, "localLevel")
			if err != nil {
				return nil, err
			}
			level := AssuredReplicationLocalLevel(raw)
			if level < LocalLevelNone || level > LocalLevelProcessedAllServers {
				return nil, decodeErrorf("%s has an unrecognized local assurance level %d", name, raw)
			}
			c.LocalLevel = &level
		case assuredTagLocalSatisfied:
			satisfied, err := fieldBoolean(child, "localAssuranceSatisfied")
			if err != nil {
				return nil, err
			}
			c.LocalAssuranceSatisfied = satisfied
			localSatisfiedSeen = true
		case assuredTagLocalMessage:
			c.LocalMessage = fieldString(child)
		case assuredTagRemoteLevel:
			raw, err := fieldInt64(child, "remoteLevel")
			if err != nil {
				return nil, err
			}
			level := AssuredReplicationRemoteLevel(raw)
			if level < RemoteLevelNone || level > RemoteLevelProcessedAllRemoteServers {
				return nil, decodeErrorf("%s has an unrecognized remote assurance level %d", name, raw)
			}
			c.RemoteLevel = &level
		case assuredTagRemoteSatisfied:
			satisfied, err := fieldBoolean(child, "remoteAssuranceSatisfied")
			if err != nil {
				return nil, err
			}
			c.RemoteAssuranceSatisfied = satisfied
			remoteSatisfiedSeen = true
		case assuredTagRemoteMessage:
			c.RemoteMessage = fieldString(child)
		case assuredTagCSN:
			c.CSN = fieldString(child)
		case assuredTagServerResults:
			return nil, decodeErrorf("%s has a malformed server results element", name)
		default:
			return nil, unknownFieldError(name, child)
		}
	}
	if !localSatisfiedSeen {
		return nil, missingFieldError(name, "localAssuranceSatisfied")
	}
	if !remoteSatisfiedSeen {
		return nil, missingFieldError(name, "remoteAssuranceSatisfied")
	}
	return c, nil
}

func decodeServerResults(packet *ber.Packet, name string) ([]AssuredReplicationServerResult, error) {
	serverResults := make([]AssuredReplicationServerResult, 0, len(packet.Children))
	for _, resultPacket := range packet.Children {
		if resultPacket.ClassType != ber.ClassUniversal || resultPacket.TagType != ber.TypeConstructed || resultPacket.Tag != ber.TagSequence {
			return nil, decodeErrorf("%s has a malformed server result", name)
		}
		var serverResult AssuredReplicationServerResult
		codeSeen := false
		for _, child := range resultPacket.Children {
			if child.ClassType != ber.ClassContext || child.TagType != ber.TypePrimitive {
				return nil, decodeErrorf("%s has a malformed server result element", name)
			}
			switch child.Tag {
			case assuredServerResultTagCode:
				raw, err := fieldInt64(child, "server result code")
				if err != nil {
					return nil, err
				}
				code := AssuredReplicationServerResultCode(raw)
				if code < ServerResultComplete || code > ServerResultDuplicate {
					return nil, decodeErrorf("%s has an unrecognized server result code %d", name, raw)
				}
				serverResult.Code = code
				codeSeen = true
			case assuredServerResultTagServerID:
				raw, err := fieldInt64(child, "server ID")
				if err != nil {
					return nil, err
				}
				if raw < -32768 || raw > 32767 {
					return nil, decodeErrorf("%s has a server ID out of range", name)
				}
				serverID := int16(raw)
				serverResult.ServerID = &serverID
			case assuredServerResultTagMessage:
				serverResult.Message = fieldString(child)
			default:
				return nil, decodeErrorf("%s has a server result with an unrecognized element", name)
			}
		}
		if !codeSeen {
			return nil, decodeErrorf("%s has a server result without a result code", name)
		}
		serverResults = append(serverResults, serverResult)
	}
	return serverResults, nil
}

// GetAssuredReplicationResponseControl returns the first assured replication
// response control among the result's controls, or nil when the result
// carries none. A control received as a generic *ControlString is decoded on
// the fly.
func GetAssuredReplicationResponseControl(result *Result) (*AssuredReplicationResponseControl, error) {
	for _, control := range result.Controls {
		decoded, err := assuredReplicationControl(control)
		if err != nil {
			return nil, err
		}
		if decoded != nil {
			return decoded, nil
		}
	}
	return nil, nil
}

// GetAssuredReplicationResponseControls returns all assured replication
// response controls among the result's controls, in the order they appear.
// The returned slice is empty, never nil, when the result carries none.
func GetAssuredReplicationResponseControls(result *Result) ([]*AssuredReplicationResponseControl, error) {
	controls := make([]*AssuredReplicationResponseControl, 0, len(result.Controls))
	for _, control := range result.Controls {
		decoded, err := assuredReplicationControl(control)
		if err != nil {
			return nil, err
		}
		if decoded != nil {
			controls = append(controls, decoded)
		}
	}
	return controls, nil
}

func assuredReplicationControl(control Control) (*AssuredReplicationResponseControl, error) {
	switch c := control.(type) {
	case *AssuredReplicationResponseControl:
		return c, nil
	case *ControlString:
		if c.ControlType == ControlTypeAssuredReplicationResponse {
			return DecodeAssuredReplicationResponseControl(c.Criticality, []byte(c.ControlValue))
		}
	}
	return nil, nil
}
