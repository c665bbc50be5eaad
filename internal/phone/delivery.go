// ABOUTME: Canonical-to-delivery transform for the outbound channel
// ABOUTME: Argentine mobiles drop the "9" prefix and take "15" after the area code

package phone

import "strings"

const (
	argentinaMobilePrefix = "549"
	argentinaCountry      = "54"
	argentinaMobileMarker = "15"
	argentinaNationalLen  = 10
)

// threeDigitAreaCodes lists the Argentine area codes with three digits.
// Buenos Aires (11) is the only two-digit code; everything else is four.
var threeDigitAreaCodes = map[string]bool{
	"220": true, "221": true, "223": true, "230": true, "236": true, "237": true,
	"249": true, "260": true, "261": true, "263": true, "264": true, "266": true,
	"280": true, "291": true, "294": true, "297": true, "298": true, "299": true,
	"336": true, "341": true, "342": true, "343": true, "345": true, "348": true,
	"351": true, "353": true, "358": true, "362": true, "364": true, "370": true,
	"376": true, "379": true, "380": true, "381": true, "383": true, "385": true,
	"387": true, "388": true,
}

// DeliveryForm converts a canonical identity into the form the outbound
// channel expects. The transform is one-way; there is no inverse.
// Identities that are not Argentine mobiles are returned unchanged.
func DeliveryForm(canonical string) string {
	plus := strings.HasPrefix(canonical, "+")
	digits := strings.TrimPrefix(canonical, "+")

	if !strings.HasPrefix(digits, argentinaMobilePrefix) || !isDigits(digits) {
		return canonical
	}

	national := digits[len(argentinaMobilePrefix):]
	if len(national) != argentinaNationalLen {
		return canonical
	}

	areaLen := areaCodeLength(national)
	out := argentinaCountry + national[:areaLen] + argentinaMobileMarker + national[areaLen:]
	if plus {
		return "+" + out
	}
	return out
}

// areaCodeLength returns how many leading digits of an Argentine national
// number form the area code.
func areaCodeLength(national string) int {
	if strings.HasPrefix(national, "11") {
		return 2
	}
	if threeDigitAreaCodes[national[:3]] {
		return 3
	}
	return 4
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
