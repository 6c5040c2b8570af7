package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalize 소문자화, 문장부호 제거, 공백 축약. 소수점은 남는다.
func TestNormalize(t *testing.T) {
	assert.Equal(t, "원금 500만원 금리 3.5 계산", Normalize("  원금 500만원,  금리 3.5%!  계산?  "))
	assert.Equal(t, "abc def", Normalize("ABC   DEF"))
	assert.Equal(t, "", Normalize("!@#$%"))
}

// TestDetectRecommendationCommand 추천 의도 감지
func TestDetectRecommendationCommand(t *testing.T) {
	cmd := DetectCommand("고객님께 맞는 상품 추천해 주세요")

	require.NotNil(t, cmd)
	assert.Equal(t, KindRecommendation, cmd.Kind)
}

// TestRecommendationPrecedesCalculator 추천과 계산 키워드가 함께 나오면
// 추천만 감지된다 — 한 세그먼트가 두 명령을 일으키지 않는다
func TestRecommendationPrecedesCalculator(t *testing.T) {
	cmd := DetectCommand("이자 계산 말고 상품 추천부터 해 주세요")

	require.NotNil(t, cmd)
	assert.Equal(t, KindRecommendation, cmd.Kind)
}

// TestDetectCalculatorCommand 숫자 세 개를 원금/이율/기간 순서로 뽑는다
func TestDetectCalculatorCommand(t *testing.T) {
	cmd := DetectCommand("원금 500만원에 금리 3.5 기간 12개월로 복리 계산해 주세요")

	require.NotNil(t, cmd)
	assert.Equal(t, KindCalculator, cmd.Kind)
	assert.Equal(t, "500", cmd.Principal)
	assert.Equal(t, "3.5", cmd.Rate)
	assert.Equal(t, "12", cmd.Period)
	assert.Equal(t, "compound", cmd.Interest)
}

// TestCalculatorSimpleInterestHint 단리 힌트
func TestCalculatorSimpleInterestHint(t *testing.T) {
	cmd := DetectCommand("1000만원 단리로 계산해 줘")

	require.NotNil(t, cmd)
	assert.Equal(t, KindCalculator, cmd.Kind)
	assert.Equal(t, "1000", cmd.Principal)
	assert.Empty(t, cmd.Rate)
	assert.Empty(t, cmd.Period)
	assert.Equal(t, "simple", cmd.Interest)
}

// TestCalculatorWithoutNumbers 숫자 없는 계산 명령은 빈 슬롯으로
func TestCalculatorWithoutNumbers(t *testing.T) {
	cmd := DetectCommand("이자 계산기 좀 열어 주세요")

	require.NotNil(t, cmd)
	assert.Equal(t, KindCalculator, cmd.Kind)
	assert.Empty(t, cmd.Principal)
	assert.Empty(t, cmd.Interest)
}

// TestNoCommand 명령 키워드가 없으면 nil
func TestNoCommand(t *testing.T) {
	assert.Nil(t, DetectCommand("네, 알겠습니다"))
	assert.Nil(t, DetectCommand(""))
	assert.Nil(t, DetectCommand("   "))
}

// TestCalculatorCapsAtThreeNumbers 숫자는 최대 세 개까지만 읽는다
func TestCalculatorCapsAtThreeNumbers(t *testing.T) {
	cmd := DetectCommand("100 그리고 2.5 그리고 24 그리고 99 계산해")

	require.NotNil(t, cmd)
	assert.Equal(t, "100", cmd.Principal)
	assert.Equal(t, "2.5", cmd.Rate)
	assert.Equal(t, "24", cmd.Period)
}
