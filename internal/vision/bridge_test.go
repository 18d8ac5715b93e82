package vision

import (
	"testing"
)

func TestDescribeObjects(t *testing.T) {
	tests := []struct {
		name string
		in   objectResult
		want string
	}{
		{
			"nothing",
			objectResult{},
			"Jeg ser ingenting akkurat nå",
		},
		{
			"single confident",
			objectResult{object: "kopp", confidence: 0.92},
			"Jeg ser en kopp (92% sikker)",
		},
		{
			"single uncertain",
			objectResult{object: "bok", confidence: 0.4},
			"Jeg ser kanskje en bok (40%)",
		},
		{
			"two objects",
			objectResult{
				object:     "kopp",
				confidence: 0.9,
				all: []detectedObject{
					{Name: "kopp", Confidence: 0.9},
					{Name: "bok", Confidence: 0.5},
				},
			},
			"Jeg ser en kopp (90%) og en bok",
		},
		{
			"three objects",
			objectResult{
				object:     "kopp",
				confidence: 0.9,
				all: []detectedObject{
					{Name: "kopp", Confidence: 0.9},
					{Name: "bok", Confidence: 0.8},
					{Name: "plante", Confidence: 0.3},
				},
			},
			"Jeg ser en kopp (90%), en bok (80%) og en plante",
		},
	}
	for _, tt := range tests {
		if got := describeObjects(tt.in); got != tt.want {
			t.Errorf("%s: describeObjects = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestHandleStatusTracksPublisher(t *testing.T) {
	b := &Bridge{duckName: "samantha"}

	b.handleStatus([]byte(`{"status":"online"}`))
	b.mu.Lock()
	online := b.publisherOnline
	b.mu.Unlock()
	if !online {
		t.Error("publisher should be online after an online status")
	}

	b.handleStatus([]byte(`{"status":"offline"}`))
	b.mu.Lock()
	online = b.publisherOnline
	b.mu.Unlock()
	if online {
		t.Error("publisher should be offline after an offline status")
	}
}

func TestHandleObjectDeliversToWaiter(t *testing.T) {
	b := &Bridge{duckName: "samantha"}
	ch := make(chan objectResult, 1)
	b.mu.Lock()
	b.objectWait = ch
	b.mu.Unlock()

	b.handleObject([]byte(`{"object_name":"kopp","confidence":0.9,"all_objects":[{"name":"kopp","confidence":0.9}]}`))

	select {
	case r := <-ch:
		if r.object != "kopp" || r.confidence != 0.9 {
			t.Errorf("delivered = %+v", r)
		}
	default:
		t.Fatal("waiter never received the detection")
	}

	// slot is one-shot
	b.mu.Lock()
	cleared := b.objectWait == nil
	b.mu.Unlock()
	if !cleared {
		t.Error("object wait slot should be cleared after delivery")
	}
}

func TestHandleEventAnalysis(t *testing.T) {
	b := &Bridge{duckName: "samantha"}
	ch := make(chan string, 1)
	b.mu.Lock()
	b.analysisWait = ch
	b.mu.Unlock()

	b.handleEvent([]byte(`{"type":"openai_analysis","data":{"description":"Et koselig kjøkken."}}`))

	select {
	case desc := <-ch:
		if desc != "Et koselig kjøkken." {
			t.Errorf("description = %q", desc)
		}
	default:
		t.Fatal("analysis never delivered")
	}
}

func TestHandleEventFaceCallback(t *testing.T) {
	var gotName string
	var gotConf float64
	b := &Bridge{
		duckName: "samantha",
		callbacks: Callbacks{
			OnFaceDetected: func(name string, conf float64) {
				gotName, gotConf = name, conf
			},
		},
	}

	b.handleEvent([]byte(`{"event":"face_recognized","data":{"name":"Osmund","confidence":0.85}}`))

	if gotName != "Osmund" || gotConf != 0.85 {
		t.Errorf("callback got %q/%v", gotName, gotConf)
	}
}
