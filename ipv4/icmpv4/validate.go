package icmpv4

import "github.com/cbxgyh/usrnet"

// ValidateSize checks the frame is at least long enough to hold the fixed
// 4-byte ICMPv4 header.
func (frm Frame) ValidateSize(v *usrnet.Validator) {
	if len(frm.buf) < 4 {
		v.AddError(usrnet.ErrShortBuffer)
	}
}

// Type, Code pairs recognized by this stack. Any other combination is
// accepted for parsing but not specially handled.
func (frm Frame) IsEchoRequest() bool {
	return frm.Type() == TypeEcho && frm.Code() == 0
}

func (frm Frame) IsEchoReply() bool {
	return frm.Type() == TypeEchoReply && frm.Code() == 0
}

func (frm Frame) IsDestinationUnreachable() bool {
	return frm.Type() == TypeDestinationUnreachable
}

func (frm Frame) IsTimeExceeded() bool {
	return frm.Type() == TypeTimeExceeded
}
