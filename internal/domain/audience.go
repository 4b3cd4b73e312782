package domain

import "slices"

type AudienceType string

const (
	AudienceAll  AudienceType = "ALL"
	AudienceRole AudienceType = "ROLE"
	AudienceUser AudienceType = "USER"
)

// Channel names used by the live broadcaster.
const (
	ChannelAll        = "ALL"
	channelRolePrefix = "ROLE_"
	channelUserPrefix = "USER_"
)

func RoleChannel(role string) string   { return channelRolePrefix + role }
func UserChannel(userID string) string { return channelUserPrefix + userID }

// Viewer is the identity a request or live session acts as.
type Viewer struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Channels returns the three channels a connection for v is enrolled in.
func (v Viewer) Channels() []string {
	return []string{ChannelAll, RoleChannel(v.Role), UserChannel(v.UserID)}
}

// Audience decides who a notification is for. Only the set matching
// AudienceType is consulted; the other one is ignored.
type Audience struct {
	AudienceType AudienceType `json:"audienceType" dynamodbav:"audience_type"`
	Roles        []string     `json:"roles,omitempty" dynamodbav:"roles,stringset,omitempty"`
	Users        []string     `json:"users,omitempty" dynamodbav:"users,stringset,omitempty"`
}

// Includes is the single audience membership rule. List filtering, unread
// counting and live routing (through Channels) must all agree with it.
func (a Audience) Includes(v Viewer) bool {
	switch a.AudienceType {
	case AudienceAll:
		return true
	case AudienceRole:
		return slices.Contains(a.Roles, v.Role)
	case AudienceUser:
		return slices.Contains(a.Users, v.UserID)
	}
	return false
}

// Channels returns the channels a notification with this audience is
// published to. A viewer shares at least one of them iff Includes is true.
func (a Audience) Channels() []string {
	switch a.AudienceType {
	case AudienceAll:
		return []string{ChannelAll}
	case AudienceRole:
		out := make([]string, 0, len(a.Roles))
		for _, r := range a.Roles {
			out = append(out, RoleChannel(r))
		}
		return out
	case AudienceUser:
		out := make([]string, 0, len(a.Users))
		for _, u := range a.Users {
			out = append(out, UserChannel(u))
		}
		return out
	}
	return nil
}

func (a Audience) clone() Audience {
	return Audience{
		AudienceType: a.AudienceType,
		Roles:        slices.Clone(a.Roles),
		Users:        slices.Clone(a.Users),
	}
}
