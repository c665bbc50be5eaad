// Package phone normalizes chat sender identities.
//
// Inbound identities arrive from the channel as bare digit strings, usually
// without the leading "+". Normalize parses them with libphonenumber rules
// and returns the E.164 form used as the customer key. Numbers that fail to
// parse are passed through and flagged rather than rejected.
//
// DeliveryForm maps a canonical identity onto the shape the outbound channel
// accepts. For Argentine mobiles that means:
//
//	5493816378744 -> 54381156378744
package phone
