// Package prompt builds the generation context for the plan consultant.
// Prompts embed a summarized snapshot of the live catalog, so they are
// rebuilt per request and never cached.
package prompt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lacheln1/unoa-server/internal/domain"
)

const systemTemplate = `당신은 LG U+의 전담 요금제 컨설턴트 'NOA'입니다. 고객의 라이프스타일과 니즈를 파악해서 딱 맞는 요금제를 찾아드리는 전문가입니다.

### 🎯 핵심 미션
- 충분한 상담을 통해 고객이 진짜 만족할 수 있는 요금제 찾기
- 친근하면서도 전문적인 톤으로 신뢰감 주기
- 복잡한 통신 용어를 쉽고 친근하게 설명하기

### 📊 사용 가능한 요금제 데이터
%s

## 상담 프로세스 (3단계)

### 1️⃣ 니즈 파악 단계
**필수 파악 정보 (최소 4가지):**
1. 데이터 사용 패턴 2. 예산 범위 3. 연령대 4. 주요 사용 용도 5. 추가 기기 필요 여부 6. 원하는 혜택 7. 할인 선호도

**규칙:**
- 7가지 중 최소 5가지 파악될 때까지 추천 금지
- 질문은 한 번에 1-2개씩, 자연스러운 대화로
- 요금제명은 반드시 **굵은 글씨** 로 표시 ('**' 닫는 태그 뒤 공백추가하여 마크다운 깨짐 현상 방지)
- 굵은 글씨 및 줄바꿈 말고는 다른 마크다운 형태 금지 (리스트나 제목형태 절대 금지! )

### 2️⃣ 분석 & 확인 단계
수집된 정보를 간결하게 요약하고, **그 답변에 이어서 바로 3단계 최종 추천 실행** (구분선없이)

**중요:** "잠시만 기다려주세요" 같이 답변을 끝내고 다음 입력을 기다리는 행동 절대 금지

### 3️⃣ 최종 추천 단계
**추천 지침:**
1. 고객 맞춤 혜택 강조 (premiumBenefit/mediaBenefit 중 관심사 연결)
2. 부가 통화 안내 (voiceCallFirstDes 정보 활용)
3. 상세 스펙은 카드에 양보, 텍스트는 매력적 설명 위주
4. 추천 개수: 최대 3개
5. 연령대 필터링 필수 (키즈/유쓰/시니어 등)

## 🎨 대화 스타일
- "좋은 질문이에요!" / "고객님 같은 경우엔…" (개인화)
- 이모지 적절히 사용, 상냥한 톤
- 기술 용어 과다 사용 금지
- 번호 매기기 나열 금지

## 🚫 범위 외 대응
타사 비교, 기술 문제, 결제 관련 등 LG U+ 요금제 관련하지 않는 내용은 회피
"LG U+ 요금제 전문이라 그 부분은 어려워요. 대신 맞춤 요금제 찾아드릴게요! 😊"`

const simpleTemplate = `LG U+ 요금제 추천 AI NOA입니다. 프론트엔드에서 수집된 구조화된 답변을 바탕으로 최적 요금제 1개를 추천해주세요.

### 요금제 데이터:
%s

### 추천 방식:
사용자 답변 → 조건 매칭 → **요금제명** 굵게 표시하여 1개 추천
가격 정보: 기본가격 + 할인 가능성 함께 안내
간결하고 친근한 톤으로 핵심만 설명`

const compareTemplate = `당신은 LG U+의 요금제 비교분석 전문가 'NOA'입니다. 두 요금제의 핵심 차이점을 쉽고 간결하게 요약해주세요.

### 비교할 요금제 데이터:
%s

### 비교 가이드:
1. **핵심 차이점 1~2개** 언급 (데이터량, 가격, 혜택 등)
2. **적합 사용자** 명확히 추천
3. 각 요금제별로 1문장씩 요약, 총 2 요금제에 대해 2문장으로 설명!!
4. 최대한 간소하게 요약!!
5. 모든 요금제명은 **굵게** 표시
6. 첫번째요금제 설명 후 줄바꿈 이후 두번째 요금제 설명.`

// BuildSystemPrompt renders the conversational-mode system message with a
// summarized snapshot of the catalog embedded.
func BuildSystemPrompt(plans []*domain.Plan) (string, error) {
	data, err := marshalSummaries(plans)
	if err != nil {
		return "", err
	}
	p := fmt.Sprintf(systemTemplate, data)
	logTokenEstimate(p, "채팅 모드")
	return p, nil
}

// BuildSimplePrompt renders the simple-mode system message. When answers are
// given, the catalog snapshot is filtered down to matching plans first.
func BuildSimplePrompt(plans []*domain.Plan, answers map[string]string) (string, error) {
	relevant := plans
	if len(answers) > 0 {
		relevant = FilterPlansByAnswers(plans, answers)
	}
	data, err := marshalSummaries(relevant)
	if err != nil {
		return "", err
	}
	p := fmt.Sprintf(simpleTemplate, data)
	logTokenEstimate(p, "간단 모드")
	return p, nil
}

// BuildComparePrompt renders the two-plan comparison system message.
func BuildComparePrompt(plans []*domain.Plan) (string, error) {
	data, err := marshalSummaries(plans)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(compareTemplate, data), nil
}

func marshalSummaries(plans []*domain.Plan) (string, error) {
	data, err := json.MarshalIndent(domain.SummarizePlans(plans), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan summaries: %w", err)
	}
	return string(data), nil
}

// logTokenEstimate logs a rough prompt size so catalog growth shows up in
// the logs before it shows up on the bill.
func logTokenEstimate(prompt, mode string) {
	slog.Debug("system prompt built", "mode", mode, "chars", len(prompt), "approx_tokens", len(prompt)/4)
}

// FilterPlansByAnswers narrows the catalog using the structured answers
// collected by the simple-mode frontend flow.
func FilterPlansByAnswers(plans []*domain.Plan, answers map[string]string) []*domain.Plan {
	filtered := plans

	if ageGroup, ok := answers["연령대"]; ok {
		switch ageGroup {
		case "만 12세 이하":
			filtered = filterTitles(filtered, func(title string) bool {
				return strings.Contains(title, "키즈")
			})
		case "만 13~18세":
			filtered = filterTitles(filtered, func(title string) bool {
				return strings.Contains(title, "유쓰") ||
					(!strings.Contains(title, "키즈") && !strings.Contains(title, "시니어"))
			})
		case "만 65세 이상":
			filtered = filterTitles(filtered, func(title string) bool {
				return strings.Contains(title, "시니어") ||
					(!strings.Contains(title, "키즈") && !strings.Contains(title, "유쓰"))
			})
		default:
			// 만 19~64세: drop age-restricted plans entirely.
			filtered = filterTitles(filtered, func(title string) bool {
				return !strings.Contains(title, "키즈") &&
					!strings.Contains(title, "유쓰") &&
					!strings.Contains(title, "시니어")
			})
		}
	}

	if budget, ok := answers["현제 요금제 요금"]; ok {
		maxPrice := 0
		switch budget {
		case "2만 원 이하":
			maxPrice = 20000
		case "2~4만 원":
			maxPrice = 40000
		case "4~6만 원":
			maxPrice = 60000
		}
		if maxPrice > 0 {
			kept := make([]*domain.Plan, 0, len(filtered))
			for _, p := range filtered {
				if p.Price <= maxPrice {
					kept = append(kept, p)
				}
			}
			filtered = kept
		}
	}

	if deviceType, ok := answers["휴대폰 요금제"]; ok {
		switch deviceType {
		case "LTE예요":
			filtered = filterTitles(filtered, func(title string) bool {
				return strings.Contains(title, "LTE")
			})
		case "5G예요":
			filtered = filterTitles(filtered, func(title string) bool {
				return strings.Contains(title, "5G")
			})
		}
	}

	if answers["기기 보유"] == "네, 태블릿이나 스마트 워치도 있어요" {
		devicePlans := filterTitles(filtered, func(title string) bool {
			return strings.Contains(title, "태블릿") ||
				strings.Contains(title, "워치") ||
				strings.Contains(title, "듀얼")
		})
		if len(devicePlans) > 0 {
			filtered = devicePlans
		}
	}

	return filtered
}

func filterTitles(plans []*domain.Plan, keep func(title string) bool) []*domain.Plan {
	kept := make([]*domain.Plan, 0, len(plans))
	for _, p := range plans {
		if keep(p.Title) {
			kept = append(kept, p)
		}
	}
	return kept
}
