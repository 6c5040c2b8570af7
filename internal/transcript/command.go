package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// CommandKind 음성 명령 종류
type CommandKind int

const (
	KindRecommendation CommandKind = iota
	KindCalculator
)

func (k CommandKind) String() string {
	switch k {
	case KindRecommendation:
		return "RECOMMENDATION"
	case KindCalculator:
		return "CALCULATOR"
	default:
		return "UNKNOWN"
	}
}

// 추천 의도 키워드. 계산기 의도보다 우선하며, 한 세그먼트가 두 명령을
// 동시에 일으키는 일은 없다.
var recommendationKeywords = []string{
	"추천",
	"추천해",
	"어떤 상품이 좋",
	"상품 추천",
	"맞는 상품",
}

// 계산기 의도 키워드
var calculatorKeywords = []string{
	"계산기",
	"이자 계산",
	"계산해",
	"계산 해",
	"계산",
}

// 복리/단리 힌트 키워드
const (
	compoundHint = "복리"
	simpleHint   = "단리"
)

var numberPattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// Command 세그먼트에서 감지된 음성 명령
type Command struct {
	Kind      CommandKind
	Principal string // 첫 번째 숫자
	Rate      string // 두 번째 숫자
	Period    string // 세 번째 숫자
	Interest  string // "compound" | "simple" | ""
}

// Normalize 명령 감지 전 전처리: 소문자화, 문장부호 제거, 공백 축약
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r == '.':
			// 소수점은 숫자 추출을 위해 남긴다
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// DetectCommand 세그먼트에서 실행 가능한 음성 명령을 찾는다.
// 추천 의도가 먼저 확인되고, 일치하면 거기서 끝난다. 계산기 의도는
// 숫자 최대 세 개를 원금/이율/기간 순서로 뽑고 단리/복리 힌트를 읽는다.
// 명령이 없으면 nil.
func DetectCommand(text string) *Command {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}

	for _, kw := range recommendationKeywords {
		if strings.Contains(norm, kw) {
			return &Command{Kind: KindRecommendation}
		}
	}

	matched := false
	for _, kw := range calculatorKeywords {
		if strings.Contains(norm, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	cmd := &Command{Kind: KindCalculator}

	numbers := numberPattern.FindAllString(norm, 3)
	if len(numbers) > 0 {
		cmd.Principal = numbers[0]
	}
	if len(numbers) > 1 {
		cmd.Rate = numbers[1]
	}
	if len(numbers) > 2 {
		cmd.Period = numbers[2]
	}

	switch {
	case strings.Contains(norm, compoundHint):
		cmd.Interest = "compound"
	case strings.Contains(norm, simpleHint):
		cmd.Interest = "simple"
	}

	return cmd
}
