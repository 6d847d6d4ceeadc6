package domain

type ChannelKind string

const (
	ChannelKindDirect    ChannelKind = "direct"
	ChannelKindGroup     ChannelKind = "group"
	ChannelKindBroadcast ChannelKind = "broadcast"
)

type MemberRole string

const (
	MemberRoleMember MemberRole = "member"
	MemberRoleAdmin  MemberRole = "admin"
)

type MessageKind string

const (
	MessageKindText    MessageKind = "text"
	MessageKindFile    MessageKind = "file"
	MessageKindElement MessageKind = "element-reference"
	MessageKindTicket  MessageKind = "ticket-reference"
)

type PresenceState string

const (
	PresenceActive PresenceState = "active"
	PresenceAway   PresenceState = "away"
	PresenceDND    PresenceState = "dnd"
)

type NotifyLevel string

const (
	NotifyAll      NotifyLevel = "all"
	NotifyMentions NotifyLevel = "mentions"
	NotifyNone     NotifyLevel = "none"
)
