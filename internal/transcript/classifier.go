package transcript

import "strings"

// SpeakerLabel 발화자 구분
type SpeakerLabel string

const (
	SpeakerOperator    SpeakerLabel = "operator"    // 상담을 이끄는 운영자
	SpeakerCounterpart SpeakerLabel = "counterpart" // 상담을 받는 고객
)

// 운영자 레지스터 키워드: 안내/제안 어투
var operatorKeywords = []string{
	"안녕하세요",
	"어떻게 도와드릴까요",
	"상품",
	"이자율",
	"가입",
	"신청",
	"서류",
	"필요",
	"도움",
	"상담",
	"추천",
	"조건",
	"혜택",
	"적금",
	"예금",
	"대출",
	"보험",
	"계약",
	"약관",
	"드리겠습니다",
	"해드리겠습니다",
	"도와드리겠습니다",
	"안내드리겠습니다",
}

// 고객 레지스터 키워드: 질문/망설임 어투
var counterpartKeywords = []string{
	"궁금",
	"알고 싶",
	"어떻게",
	"언제",
	"얼마",
	"비용",
	"수수료",
	"언제까지",
	"언제부터",
	"언제든지",
	"괜찮",
	"괜찮을까",
	"좋을까",
	"생각",
	"고민",
	"고민중",
	"생각중",
	"고민해",
	"생각해",
}

// Classification 화자 분류 결과
type Classification struct {
	Label              SpeakerLabel
	Confidence         float64
	OperatorMatches    int
	CounterpartMatches int
}

// ClassifySpeaker 키워드 개수 비교로 발화자를 분류한다.
// 더 많이 일치한 쪽의 라벨이 이기고, 동수는 운영자로 분류한다 — 이것은
// 오류가 아니라 문서화된 정책 기본값이다(상담은 운영자가 이끈다).
// 신뢰도는 max(count)/total(count), 일치 키워드가 없으면 중립 0.5.
func ClassifySpeaker(text string) Classification {
	opCount := countMatches(text, operatorKeywords)
	cpCount := countMatches(text, counterpartKeywords)
	total := opCount + cpCount

	c := Classification{
		OperatorMatches:    opCount,
		CounterpartMatches: cpCount,
		Confidence:         0.5,
	}

	if cpCount > opCount {
		c.Label = SpeakerCounterpart
	} else {
		c.Label = SpeakerOperator
	}

	if total > 0 {
		maxCount := opCount
		if cpCount > maxCount {
			maxCount = cpCount
		}
		c.Confidence = float64(maxCount) / float64(total)
	}

	return c
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
