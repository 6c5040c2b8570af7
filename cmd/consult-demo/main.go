package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"ConsultSync/internal/dispatch"
	"ConsultSync/internal/fieldsync"
	"ConsultSync/internal/httpserver"
	"ConsultSync/internal/logger"
	"ConsultSync/internal/protocol"
	"ConsultSync/internal/recommend"
	"ConsultSync/internal/registry"
	"ConsultSync/internal/relay"
	"ConsultSync/internal/transcript"
	"ConsultSync/internal/transport"
)

const (
	relayAddr    = ":18090"
	relayURL     = "ws://127.0.0.1:18090/ws"
	pipelineAddr = ":18091"
	pipelineURL  = "http://127.0.0.1:18091/api/recommendations/pipeline"
)

func main() {
	logger.InitLogger()

	fmt.Println("🏦 상담 세션 동기화 코어 데모")
	fmt.Println("==================================")
	fmt.Println()

	// 1. 릴레이와 추천 파이프라인 서버 기동
	fmt.Println("🚀 릴레이 서버 시작...")
	relayServer := relay.New(relay.DefaultServerConfig(relayAddr))
	if err := relayServer.Start(); err != nil {
		log.Fatalf("릴레이 서버 시작 실패: %v", err)
	}
	defer relayServer.Shutdown(context.Background())

	pipelineServer := httpserver.NewPipelineServer(pipelineAddr, nil)
	if err := pipelineServer.Start(); err != nil {
		log.Fatalf("파이프라인 서버 시작 실패: %v", err)
	}
	defer pipelineServer.Stop()
	fmt.Println("✅ 서버 준비 완료")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessionID := fmt.Sprintf("demo_%d", time.Now().Unix())
	topic := protocol.SessionTopic(sessionID)

	// 2. 운영자 쪽 배선
	fmt.Println("\n🔗 운영자 콘솔 연결...")
	operatorConn := transport.NewConn(transport.DefaultConnConfig(relayURL))
	if err := operatorConn.Connect(ctx); err != nil {
		log.Fatalf("운영자 연결 실패: %v", err)
	}

	operatorSync := fieldsync.New(sessionID, operatorConn)
	operatorDispatch := dispatch.New()
	operatorDispatch.MustRegister(protocol.TypeFieldFocus, operatorSync.ApplyRemote)
	operatorDispatch.MustRegister(protocol.TypeFieldInputSync, operatorSync.ApplyRemote)
	operatorDispatch.MustRegister(protocol.TypeFieldInputComplete, operatorSync.ApplyRemote)
	operatorDispatch.MustRegister(protocol.TypeScreenHighlight, operatorSync.ApplyRemote)

	requester := recommend.New(recommend.DefaultConfig(pipelineURL), operatorConn, sessionID, "demo-customer")
	requester.OnResult(func(result protocol.RecommendationResultPayload) {
		fmt.Printf("🤖 [운영자] 추천 결과 적용: %d개 상품, intent=%s\n",
			len(result.Recommendations), result.Intent)
	})
	requester.OnDeliveryError(func(err *recommend.DeliveryError) {
		fmt.Printf("❌ [운영자] 추천 전달 실패: %v\n", err)
	})
	operatorDispatch.MustRegister(protocol.TypeRecommendationResult, requester.HandleChannelResult)

	if _, err := operatorConn.Subscribe(topic, operatorDispatch.Dispatch); err != nil {
		log.Fatalf("운영자 구독 실패: %v", err)
	}

	// 3. 상대 화면 쪽 배선
	fmt.Println("🔗 상대 화면 연결...")
	counterpartConn := transport.NewConn(transport.DefaultConnConfig(relayURL))
	if err := counterpartConn.Connect(ctx); err != nil {
		log.Fatalf("상대 화면 연결 실패: %v", err)
	}

	counterpartSync := fieldsync.New(sessionID, counterpartConn)
	counterpartSync.OnChange(func(fieldID, value string) {
		fmt.Printf("📝 [상대] 필드 갱신: %s = %q\n", fieldID, value)
	})

	counterpartDispatch := dispatch.New()
	counterpartDispatch.MustRegister(protocol.TypeFieldFocus, counterpartSync.ApplyRemote)
	counterpartDispatch.MustRegister(protocol.TypeFieldInputSync, counterpartSync.ApplyRemote)
	counterpartDispatch.MustRegister(protocol.TypeFieldInputComplete, counterpartSync.ApplyRemote)
	counterpartDispatch.MustRegister(protocol.TypeScreenHighlight, counterpartSync.ApplyRemote)
	counterpartDispatch.MustRegister(protocol.TypeTabChange, func(env *protocol.Envelope) {
		var p protocol.TabChangePayload
		if err := env.DecodeData(&p); err == nil {
			fmt.Printf("📑 [상대] 탭 전환: %s\n", p.ActiveTab)
		}
	})
	counterpartDispatch.MustRegister(protocol.TypeCalculatorOpen, func(env *protocol.Envelope) {
		fmt.Println("🧮 [상대] 계산기 열림")
	})
	counterpartDispatch.MustRegister(protocol.TypeCalculatorUpdate, func(env *protocol.Envelope) {
		var p protocol.CalculatorUpdatePayload
		if err := env.DecodeData(&p); err == nil {
			fmt.Printf("🧮 [상대] 계산기 입력: %s = %s\n", p.Field, p.Value)
		}
	})
	counterpartDispatch.MustRegister(protocol.TypeRecommendationResult, func(env *protocol.Envelope) {
		var p protocol.RecommendationResultPayload
		if err := env.DecodeData(&p); err == nil {
			fmt.Printf("🎁 [상대] 추천 표시: %d개 상품\n", len(p.Recommendations))
		}
	})
	counterpartDispatch.MustRegister(protocol.TypeSTTTranscript, func(env *protocol.Envelope) {
		var p protocol.TranscriptPayload
		if err := env.DecodeData(&p); err == nil {
			fmt.Printf("💬 [상대] %s: %s\n", p.SpeakerLabel, p.Text)
		}
	})

	if _, err := counterpartConn.Subscribe(topic, counterpartDispatch.Dispatch); err != nil {
		log.Fatalf("상대 화면 구독 실패: %v", err)
	}

	// 4. 세션 참여
	fmt.Println("\n👥 세션 참여...")
	reg := registry.New()
	if _, err := reg.Join(ctx, sessionID, registry.RoleOperator, operatorConn); err != nil {
		log.Fatalf("운영자 참여 실패: %v", err)
	}
	if _, err := reg.Join(ctx, sessionID, registry.RoleCounterpart, counterpartConn); err != nil {
		log.Fatalf("상대 참여 실패: %v", err)
	}
	fmt.Printf("✅ 세션 %s 구성 완료\n", sessionID)

	time.Sleep(200 * time.Millisecond)

	// 5. 필드 동기화 데모
	fmt.Println("\n⌨️  필드 입력 동기화...")
	operatorSync.Focus("customer_name")
	operatorSync.SetLocal("customer_name", "김하나")
	operatorSync.SetLocal("deposit_amount", "1000000")
	operatorSync.Commit("customer_name")
	time.Sleep(500 * time.Millisecond)
	fmt.Printf("📋 [상대] 필드 맵 상태: %v\n", counterpartSync.Snapshot())

	// 6. 음성 명령 파이프라인 데모
	fmt.Println("\n🎤 음성 명령 파이프라인...")
	pipeline := transcript.NewPipeline(nil, sessionID, operatorConn, requester)

	seg := pipeline.ProcessFinal(ctx, "원금 500만원에 금리 3.5 기간 12개월로 복리 계산해 주세요")
	fmt.Printf("🗣️  화자=%s (신뢰도 %.2f)\n", seg.SpeakerLabel, seg.Confidence)
	time.Sleep(2500 * time.Millisecond)

	seg = pipeline.ProcessFinal(ctx, "고객님께 맞는 적금 상품을 추천해 드리겠습니다")
	fmt.Printf("🗣️  화자=%s (신뢰도 %.2f)\n", seg.SpeakerLabel, seg.Confidence)
	time.Sleep(1500 * time.Millisecond)

	// 7. 상담 종료
	fmt.Println("\n🏁 상담 종료...")
	if err := reg.End(ctx); err != nil {
		log.Printf("세션 종료 오류: %v", err)
	}

	fmt.Println("\n✅ 데모 완료")
}
