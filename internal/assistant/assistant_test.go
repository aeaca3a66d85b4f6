package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type listenResult struct {
	text string
	err  error
}

type fakeListener struct {
	mu       sync.Mutex
	script   []listenResult
	pos      int
	delay    time.Duration
	timeouts []time.Duration
	inFlight atomic.Bool
}

func (f *fakeListener) Listen(timeout time.Duration, onPartial func(string)) (string, error) {
	f.inFlight.Store(true)
	defer f.inFlight.Store(false)

	f.mu.Lock()
	f.timeouts = append(f.timeouts, timeout)
	var r listenResult
	if f.pos < len(f.script) {
		r = f.script[f.pos]
		f.pos++
	}
	f.mu.Unlock()

	delay := f.delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	time.Sleep(delay)
	return r.text, r.err
}

func (f *fakeListener) calls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.timeouts))
	copy(out, f.timeouts)
	return out
}

type completeCall struct {
	text   string
	urgent bool
}

type fakeCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	requests []completeCall
	inFlight atomic.Bool
}

func (f *fakeCompleter) Complete(ctx context.Context, text string, urgent bool) (string, error) {
	f.inFlight.Store(true)
	defer f.inFlight.Store(false)

	f.mu.Lock()
	f.requests = append(f.requests, completeCall{text: text, urgent: urgent})
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.response, f.err
}

func (f *fakeCompleter) calls() []completeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]completeCall, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	closed bool
}

func (f *fakeSpeaker) Enqueue(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.spoken = append(f.spoken, text)
}

func (f *fakeSpeaker) Close(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSpeaker) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

func (f *fakeSpeaker) saidContaining(sub string) bool {
	for _, s := range f.all() {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

type uiMessage struct {
	text    string
	tag     string
	replace bool
}

type fakeUI struct {
	mu       sync.Mutex
	messages []uiMessage
	statuses [][2]string
}

func (f *fakeUI) DisplayMessage(text, tag string, replaceLast bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, uiMessage{text: text, tag: tag, replace: replaceLast})
}

func (f *fakeUI) UpdateStatus(label, color string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, [2]string{label, color})
}

func (f *fakeUI) SetListening(active bool) {}

func (f *fakeUI) messageContaining(sub string) *uiMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if strings.Contains(f.messages[i].text, sub) {
			return &f.messages[i]
		}
	}
	return nil
}

func (f *fakeUI) hasStatus(label string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.statuses {
		if s[0] == label {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		WakeWords:        []string{"assistant"},
		ListenTimeout:    10 * time.Millisecond,
		DefaultTimeout:   20 * time.Millisecond,
		EmergencyTimeout: 30 * time.Millisecond,
		MaxLoopErrors:    5,
		ErrorPause:       2 * time.Millisecond,
		PollInterval:     2 * time.Millisecond,
		JoinTimeout:      500 * time.Millisecond,
	}
}

func newTestAssistant(t *testing.T, config Config, listener Listener, completer *fakeCompleter) (*Assistant, *fakeSpeaker, *fakeUI) {
	t.Helper()
	speaker := &fakeSpeaker{}
	sink := &fakeUI{}
	a, err := New(config, Parts{
		Listener:  listener,
		Completer: completer,
		Speaker:   speaker,
		UI:        sink,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error creating assistant, got %v", err)
	}
	return a, speaker, sink
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Condition not met within timeout")
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}, Parts{Speaker: &fakeSpeaker{}, UI: &fakeUI{}}, zerolog.Nop()); err == nil {
		t.Error("Expected error for missing completer, got nil")
	}
	if _, err := New(Config{}, Parts{Completer: &fakeCompleter{}, UI: &fakeUI{}}, zerolog.Nop()); err == nil {
		t.Error("Expected error for missing speaker, got nil")
	}
	if _, err := New(Config{}, Parts{Completer: &fakeCompleter{}, Speaker: &fakeSpeaker{}}, zerolog.Nop()); err == nil {
		t.Error("Expected error for missing ui sink, got nil")
	}
}

func TestStart_AnnouncesAndListens(t *testing.T) {
	listener := &fakeListener{}
	completer := &fakeCompleter{response: "ok"}
	a, speaker, sink := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	spoken := speaker.all()
	if len(spoken) == 0 || spoken[0] != "Advanced Survival Assistant is now active and monitoring for emergencies." {
		t.Errorf("Expected welcome announcement first, got %v", spoken)
	}
	if !sink.hasStatus("🟢 Ready") {
		t.Error("Expected ready status after start")
	}
	if msg := sink.messageContaining("ASSISTANT: Advanced Survival Assistant"); msg == nil || msg.tag != "assistant" {
		t.Error("Expected welcome transcript line with assistant tag")
	}

	waitFor(t, time.Second, func() bool { return len(listener.calls()) > 0 })
}

func TestStart_VoiceUnavailable(t *testing.T) {
	completer := &fakeCompleter{}
	a, speaker, sink := newTestAssistant(t, testConfig(), nil, completer)

	a.Start()

	waitFor(t, time.Second, func() bool {
		return speaker.saidContaining("Voice recognition is unavailable. Manual mode only.")
	})
	if !sink.hasStatus("⚠️ Voice Disabled") {
		t.Error("Expected voice disabled status")
	}

	done := make(chan struct{})
	go func() {
		a.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected shutdown to complete without a listening loop")
	}
}

func TestLoop_QuestionDispatchedNonUrgent(t *testing.T) {
	listener := &fakeListener{script: []listenResult{{text: "how do i purify water"}}}
	completer := &fakeCompleter{response: "Boil it for one minute."}
	a, speaker, sink := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		return speaker.saidContaining("Boil it for one minute.")
	})

	calls := completer.calls()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 completion call, got %d", len(calls))
	}
	if calls[0].text != "how do i purify water" || calls[0].urgent {
		t.Errorf("Expected non-urgent question call, got %+v", calls[0])
	}

	if msg := sink.messageContaining("YOU: how do i purify water"); msg == nil || msg.tag != "user" {
		t.Error("Expected user transcript line")
	}
	if !sink.hasStatus("🤖 Consulting AI") {
		t.Error("Expected consulting status during processing")
	}
	waitFor(t, time.Second, func() bool { return sink.hasStatus("🟢 Ready") })
}

func TestLoop_EmergencyDispatchedUrgent(t *testing.T) {
	listener := &fakeListener{script: []listenResult{{text: "there is a fire emergency"}}}
	completer := &fakeCompleter{response: "Evacuate now."}
	a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool { return speaker.saidContaining("Evacuate now.") })

	calls := completer.calls()
	if len(calls) != 1 || !calls[0].urgent {
		t.Errorf("Expected urgent completion call, got %+v", calls)
	}
}

func TestLoop_WakeWordFollowUp(t *testing.T) {
	config := testConfig()
	listener := &fakeListener{script: []listenResult{
		{text: "hey assistant"},
		{text: "i am lost in the woods"},
	}}
	completer := &fakeCompleter{response: "Stay where you are."}
	a, speaker, _ := newTestAssistant(t, config, listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool { return speaker.saidContaining("Stay where you are.") })

	if !speaker.saidContaining("I'm ready to help with your emergency. Please describe the situation.") {
		t.Error("Expected wake acknowledgement before follow-up capture")
	}

	calls := completer.calls()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 completion call, got %d", len(calls))
	}
	if calls[0].text != "i am lost in the woods" || !calls[0].urgent {
		t.Errorf("Expected follow-up treated as urgent, got %+v", calls[0])
	}

	timeouts := listener.calls()
	if len(timeouts) < 2 {
		t.Fatalf("Expected at least 2 listens, got %d", len(timeouts))
	}
	if timeouts[0] != config.ListenTimeout {
		t.Errorf("Expected ambient listen timeout %v, got %v", config.ListenTimeout, timeouts[0])
	}
	if timeouts[1] != config.EmergencyTimeout {
		t.Errorf("Expected follow-up to use emergency timeout %v, got %v", config.EmergencyTimeout, timeouts[1])
	}
}

func TestLoop_WakeWordNothingCaught(t *testing.T) {
	listener := &fakeListener{script: []listenResult{{text: "assistant"}, {text: ""}}}
	completer := &fakeCompleter{response: "unused"}
	a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		return speaker.saidContaining("I didn't catch that. Please try again or use the emergency voice button.")
	})

	if calls := completer.calls(); len(calls) != 0 {
		t.Errorf("Expected no completion call, got %+v", calls)
	}
}

func TestLoop_ExitStopsEverything(t *testing.T) {
	listener := &fakeListener{script: []listenResult{{text: "please exit now"}}}
	completer := &fakeCompleter{}
	a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()

	waitFor(t, 2*time.Second, func() bool {
		return speaker.saidContaining("Shutting down survival assistant. Stay safe.")
	})

	select {
	case <-a.loopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected listening loop to stop after exit command")
	}
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected stop sequence to finish after exit command")
	}

	speaker.mu.Lock()
	closed := speaker.closed
	speaker.mu.Unlock()
	if !closed {
		t.Error("Expected speech queue closed after exit command")
	}

	if err := a.TriggerManual(false); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy after shutdown, got %v", err)
	}
	if calls := completer.calls(); len(calls) != 0 {
		t.Errorf("Expected exit to skip completion, got %+v", calls)
	}
}

func TestLoop_ListeningAndProcessingMutuallyExclusive(t *testing.T) {
	listener := &fakeListener{script: []listenResult{
		{text: "how do i find water"},
		{text: "help there is danger"},
		{text: "what should i eat"},
	}}
	completer := &fakeCompleter{response: "ok", delay: 15 * time.Millisecond}
	a, _, _ := newTestAssistant(t, testConfig(), listener, completer)

	violations := atomic.Int32{}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if listener.inFlight.Load() && completer.inFlight.Load() {
					violations.Add(1)
				}
				if completer.inFlight.Load() && Phase(a.phase.Load()) == PhaseListening {
					violations.Add(1)
				}
			}
		}()
	}

	a.Start()
	waitFor(t, 5*time.Second, func() bool { return len(completer.calls()) == 3 })
	a.Shutdown()
	close(stop)
	wg.Wait()

	if n := violations.Load(); n != 0 {
		t.Errorf("Expected listening and processing never observed together, got %d violations", n)
	}
}

func TestLoop_ConsecutiveErrorsFatal(t *testing.T) {
	deviceErr := errors.New("device failure")
	script := make([]listenResult, 5)
	for i := range script {
		script[i] = listenResult{err: deviceErr}
	}
	listener := &fakeListener{script: script}
	completer := &fakeCompleter{}
	a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		return speaker.saidContaining("I'm experiencing technical difficulties. Please restart the application.")
	})

	select {
	case <-a.loopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected loop to terminate after repeated errors")
	}
}

func TestLoop_ErrorCounterResetsOnUtterance(t *testing.T) {
	deviceErr := errors.New("device failure")
	script := []listenResult{
		{err: deviceErr},
		{err: deviceErr},
		{err: deviceErr},
		{err: deviceErr},
		{text: "how do i stay warm"},
		{err: deviceErr},
		{err: deviceErr},
	}
	listener := &fakeListener{script: script}
	completer := &fakeCompleter{response: "Layer up."}
	a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool { return speaker.saidContaining("Layer up.") })
	waitFor(t, 2*time.Second, func() bool { return len(listener.calls()) >= 7 })

	if speaker.saidContaining("Please restart the application.") {
		t.Error("Expected error counter reset by the utterance, got fatal announcement")
	}
}

func TestDispatch_ApologyOnCompletionFailure(t *testing.T) {
	tests := []struct {
		name       string
		utterance  string
		wantSuffix bool
	}{
		{name: "urgent apology names emergency services", utterance: "help me now", wantSuffix: true},
		{name: "advisory apology does not", utterance: "what is edible here", wantSuffix: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener := &fakeListener{script: []listenResult{{text: tt.utterance}}}
			completer := &fakeCompleter{err: errors.New("service down")}
			a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

			a.Start()
			defer a.Shutdown()

			waitFor(t, 2*time.Second, func() bool {
				return speaker.saidContaining("I'm having trouble accessing the AI service. Please check the connection.")
			})

			hasSuffix := speaker.saidContaining("In a real emergency, please call emergency services immediately.")
			if hasSuffix != tt.wantSuffix {
				t.Errorf("Expected emergency suffix %v, got %v", tt.wantSuffix, hasSuffix)
			}
		})
	}
}

func TestDispatch_EmptyResponseGetsApology(t *testing.T) {
	listener := &fakeListener{script: []listenResult{{text: "what now"}}}
	completer := &fakeCompleter{response: ""}
	a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		return speaker.saidContaining("I'm having trouble accessing the AI service.")
	})
}

func TestTriggerManual_RejectedWhileProcessing(t *testing.T) {
	listener := &fakeListener{script: []listenResult{{text: "how do i signal for rescue"}}}
	completer := &fakeCompleter{response: "Use a mirror.", delay: 100 * time.Millisecond}
	a, _, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool { return completer.inFlight.Load() })

	if err := a.TriggerManual(false); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while processing, got %v", err)
	}
}

func TestTriggerManual_RejectedWhileListening(t *testing.T) {
	listener := &fakeListener{delay: 100 * time.Millisecond}
	completer := &fakeCompleter{}
	a, _, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	defer a.Shutdown()

	waitFor(t, 2*time.Second, func() bool { return listener.inFlight.Load() })

	if err := a.TriggerManual(true); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while listening, got %v", err)
	}
}

func TestTriggerManual_EmergencyCapture(t *testing.T) {
	config := testConfig()
	listener := &fakeListener{script: []listenResult{{text: "my leg is broken"}}}
	completer := &fakeCompleter{response: "Immobilize the leg."}

	speaker := &fakeSpeaker{}
	sink := &fakeUI{}
	a, err := New(config, Parts{
		Listener:  listener,
		Completer: completer,
		Speaker:   speaker,
		UI:        sink,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error creating assistant, got %v", err)
	}
	// No Start: drive the manual path directly so the ambient loop cannot
	// consume the scripted utterance first.
	if err := a.TriggerManual(true); err != nil {
		t.Fatalf("Expected manual trigger accepted, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return speaker.saidContaining("Immobilize the leg.") })

	if sink.messageContaining("🚨 EMERGENCY MODE - Describe your situation clearly...") == nil {
		t.Error("Expected emergency mode prompt")
	}

	calls := completer.calls()
	if len(calls) != 1 || !calls[0].urgent || calls[0].text != "my leg is broken" {
		t.Errorf("Expected urgent manual command, got %+v", calls)
	}

	timeouts := listener.calls()
	if len(timeouts) != 1 || timeouts[0] != config.EmergencyTimeout {
		t.Errorf("Expected emergency timeout %v, got %v", config.EmergencyTimeout, timeouts)
	}

	// Capture finished and processing completed, so a new trigger is allowed.
	waitFor(t, 2*time.Second, func() bool { return Phase(a.phase.Load()) == PhaseIdle })
	if err := a.TriggerManual(false); err != nil {
		t.Errorf("Expected trigger accepted after completion, got %v", err)
	}
}

func TestTriggerManual_NoInputDetected(t *testing.T) {
	listener := &fakeListener{script: []listenResult{{text: ""}}}
	completer := &fakeCompleter{}

	speaker := &fakeSpeaker{}
	sink := &fakeUI{}
	a, err := New(testConfig(), Parts{
		Listener:  listener,
		Completer: completer,
		Speaker:   speaker,
		UI:        sink,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error creating assistant, got %v", err)
	}

	if err := a.TriggerManual(false); err != nil {
		t.Fatalf("Expected manual trigger accepted, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return sink.messageContaining("🔇 No clear input detected. Please try again.") != nil
	})

	if sink.messageContaining("🎤 Listening for your command...") == nil {
		t.Error("Expected listening prompt for non-urgent capture")
	}
	if calls := completer.calls(); len(calls) != 0 {
		t.Errorf("Expected no completion call, got %+v", calls)
	}

	waitFor(t, 2*time.Second, func() bool { return Phase(a.phase.Load()) == PhaseIdle })
}

func TestShutdown_SpeaksFarewellOnce(t *testing.T) {
	listener := &fakeListener{}
	completer := &fakeCompleter{}
	a, speaker, _ := newTestAssistant(t, testConfig(), listener, completer)

	a.Start()
	a.Shutdown()
	a.Shutdown()

	farewells := 0
	for _, s := range speaker.all() {
		if s == "Shutting down survival assistant. Stay safe." {
			farewells++
		}
	}
	if farewells != 1 {
		t.Errorf("Expected exactly 1 farewell, got %d", farewells)
	}

	speaker.mu.Lock()
	closed := speaker.closed
	speaker.mu.Unlock()
	if !closed {
		t.Error("Expected speech queue closed on shutdown")
	}
}
