package classifier

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
)

// domainStopwords supplements the English stopword set with noise
// words common enough in raw bank/SMS transaction text that they'd
// otherwise dominate the token overlap signal without carrying any
// classification value.
var domainStopwords = map[string]bool{
	"payment": true, "transaction": true, "via": true, "using": true,
	"paid": true, "ref": true, "txn": true, "upi": true, "neft": true,
	"imps": true, "rtgs": true, "pos": true, "purchase": true,
}

var englishStopwords = stopwords.MustGet("en")

// semanticGroups clusters common merchant/category vocabulary so
// "uber" and "metro" both score as transport even without an exact
// token match.
var semanticGroups = map[string]string{
	"food": "food", "restaurant": "food", "swiggy": "food", "zomato": "food",
	"cafe": "food", "dining": "food", "eatery": "food", "kitchen": "food",

	"grocery": "grocery", "supermarket": "grocery", "bigbasket": "grocery",
	"mart": "grocery", "grofers": "grocery", "blinkit": "grocery", "zepto": "grocery",

	"transport": "transport", "uber": "transport", "ola": "transport",
	"metro": "transport", "fuel": "transport", "petrol": "transport",
	"diesel": "transport", "parking": "transport", "toll": "transport", "cab": "transport",

	"entertainment": "entertainment", "netflix": "entertainment",
	"spotify": "entertainment", "movie": "entertainment", "cinema": "entertainment",
	"subscription": "entertainment", "prime": "entertainment", "hotstar": "entertainment",

	"shopping": "shopping", "amazon": "shopping", "flipkart": "shopping",
	"myntra": "shopping", "mall": "shopping", "store": "shopping", "retail": "shopping",

	"health": "health", "pharmacy": "health", "hospital": "health",
	"clinic": "health", "medical": "health", "doctor": "health", "medicine": "health",

	"utilities": "utilities", "electricity": "utilities", "water": "utilities",
	"gas": "utilities", "broadband": "utilities", "wifi": "utilities", "recharge": "utilities",

	"education": "education", "school": "education", "college": "education",
	"tuition": "education", "course": "education", "university": "education",
}

// tokenize lowercases, strips punctuation, and splits on whitespace,
// discarding English and domain stopwords and bare numeric tokens.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || isNumeric(f) {
			continue
		}
		if domainStopwords[f] {
			continue
		}
		if englishStopwords.Contains(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// tokenPairScore scores one (transaction-token, target-token) pair per
//  step 3.
func tokenPairScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.7
	}
	ga, oka := semanticGroups[a]
	gb, okb := semanticGroups[b]
	if oka && okb && ga == gb {
		return 0.8
	}
	return 0
}

// semanticSimilarity is the pure two-string similarity function from
// : tokenize both sides, score every pair, aggregate via
// the harmonic mean of coverage against each side plus a capped
// multi-match boost, clipped to [0,1].
func semanticSimilarity(text, target string) float64 {
	txnTokens := tokenize(text)
	targetTokens := tokenize(target)
	if len(txnTokens) == 0 || len(targetTokens) == 0 {
		return 0
	}

	// Greedy best-pair-per-transaction-token matching: each
	// transaction token contributes its single best score against any
	// target token, and vice versa for the target-side coverage ratio.
	var txnMatchSum, targetMatchSum float64
	matchedPairs := 0

	for _, tt := range txnTokens {
		best := 0.0
		for _, gt := range targetTokens {
			if s := tokenPairScore(tt, gt); s > best {
				best = s
			}
		}
		txnMatchSum += best
		if best > 0 {
			matchedPairs++
		}
	}
	for _, gt := range targetTokens {
		best := 0.0
		for _, tt := range txnTokens {
			if s := tokenPairScore(tt, gt); s > best {
				best = s
			}
		}
		targetMatchSum += best
	}

	txnCoverage := txnMatchSum / float64(len(txnTokens))
	targetCoverage := targetMatchSum / float64(len(targetTokens))

	var harmonic float64
	if txnCoverage+targetCoverage > 0 {
		harmonic = 2 * txnCoverage * targetCoverage / (txnCoverage + targetCoverage)
	}

	boost := 0.05 * float64(matchedPairs)
	if boost > 0.15 {
		boost = 0.15
	}

	result := harmonic + boost
	if result > 1 {
		result = 1
	}
	if result < 0 {
		result = 0
	}
	return result
}
