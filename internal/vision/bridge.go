// Package vision talks to the camera unit over MQTT. The camera publishes
// detections under duck/vision/#; commands go to duck/<name>/commands and
// synchronous helpers wait a bounded time for the matching reply.
package vision

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	qosFireAndForget = 0
	qosAtLeastOnce   = 1

	objectTimeout  = 10 * time.Second
	analyzeTimeout = 15 * time.Second
	faceTimeout    = 5 * time.Second
)

// Callbacks are invoked from the MQTT receive goroutine; keep them short.
type Callbacks struct {
	OnFaceDetected   func(name string, confidence float64)
	OnUnknownFace    func()
	OnObjectDetected func(object string, confidence float64)
	OnSpeaker        func(name string, confidence float64)
	OnVoiceLearned   func(name string, success bool)
	OnLearningStep   func(name string, step, total int, instruction string)
}

type detectedObject struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type objectResult struct {
	object     string
	confidence float64
	all        []detectedObject
}

type faceResult struct {
	found      bool
	name       string
	confidence float64
}

type Bridge struct {
	client    mqtt.Client
	duckName  string
	callbacks Callbacks

	mu              sync.Mutex
	publisherOnline bool
	objectWait      chan objectResult
	analysisWait    chan string
	faceWait        chan faceResult
}

func NewBridge(brokerURL, duckName string, cb Callbacks) *Bridge {
	b := &Bridge{duckName: strings.ToLower(duckName), callbacks: cb}

	statusTopic := fmt.Sprintf("duck/%s/status", b.duckName)
	offline, _ := json.Marshal(map[string]string{"status": "offline"})

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(b.duckName + "-vision-client").
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetBinaryWill(statusTopic, offline, qosAtLeastOnce, true)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("[vision] mqtt connection lost: %v", err)
	}

	b.client = mqtt.NewClient(opts)
	return b
}

func (b *Bridge) Connect() error {
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

func (b *Bridge) Close() {
	statusTopic := fmt.Sprintf("duck/%s/status", b.duckName)
	offline, _ := json.Marshal(map[string]string{"status": "offline"})
	b.client.Publish(statusTopic, qosAtLeastOnce, true, offline).Wait()
	b.client.Disconnect(250)
}

// Online reports whether commands can reach the camera: the local client is
// connected and the camera's retained status says online.
func (b *Bridge) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client.IsConnected() && b.publisherOnline
}

func (b *Bridge) onConnect(c mqtt.Client) {
	if token := c.Subscribe("duck/vision/#", qosAtLeastOnce, b.onMessage); token.Wait() && token.Error() != nil {
		log.Printf("[vision] subscribe duck/vision/#: %v", token.Error())
	}
	if token := c.Subscribe("duck/audio/#", qosAtLeastOnce, b.onMessage); token.Wait() && token.Error() != nil {
		log.Printf("[vision] subscribe duck/audio/#: %v", token.Error())
	}
	statusTopic := fmt.Sprintf("duck/%s/status", b.duckName)
	online, _ := json.Marshal(map[string]string{"status": "online"})
	c.Publish(statusTopic, qosAtLeastOnce, true, online)
	log.Printf("[vision] mqtt connected, subscribed to duck/vision/#")
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("[vision] invalid json on %s: %v", msg.Topic(), err)
		return
	}

	switch msg.Topic() {
	case "duck/vision/status":
		b.handleStatus(msg.Payload())
	case "duck/vision/face":
		b.handleFace(msg.Payload())
	case "duck/vision/object":
		b.handleObject(msg.Payload())
	case "duck/vision/event", "duck/vision/events":
		b.handleEvent(msg.Payload())
	case "duck/audio/speaker":
		b.handleSpeaker(msg.Payload())
	case "duck/audio/voice_learned":
		b.handleVoiceLearned(msg.Payload())
	}
}

func (b *Bridge) handleStatus(payload []byte) {
	var st struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &st); err != nil {
		return
	}
	b.mu.Lock()
	was := b.publisherOnline
	b.publisherOnline = st.Status == "online"
	now := b.publisherOnline
	b.mu.Unlock()
	if now != was {
		if now {
			log.Printf("[vision] camera unit online")
		} else {
			log.Printf("[vision] camera unit offline")
		}
	}
}

func (b *Bridge) handleFace(payload []byte) {
	var f struct {
		PersonName string  `json:"person_name"`
		IsKnown    bool    `json:"is_known"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(payload, &f); err != nil {
		return
	}
	if f.IsKnown && b.callbacks.OnFaceDetected != nil {
		b.callbacks.OnFaceDetected(f.PersonName, f.Confidence)
	} else if !f.IsKnown && b.callbacks.OnUnknownFace != nil {
		b.callbacks.OnUnknownFace()
	}
}

func (b *Bridge) handleObject(payload []byte) {
	var o struct {
		ObjectName string           `json:"object_name"`
		Confidence float64          `json:"confidence"`
		AllObjects []detectedObject `json:"all_objects"`
	}
	if err := json.Unmarshal(payload, &o); err != nil {
		return
	}
	b.deliverObject(objectResult{object: o.ObjectName, confidence: o.Confidence, all: o.AllObjects})
	if b.callbacks.OnObjectDetected != nil {
		b.callbacks.OnObjectDetected(o.ObjectName, o.Confidence)
	}
}

func (b *Bridge) handleSpeaker(payload []byte) {
	var s struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(payload, &s); err != nil {
		return
	}
	log.Printf("[vision] speaker recognized: %s (%.0f%%)", s.Name, s.Confidence*100)
	if b.callbacks.OnSpeaker != nil {
		b.callbacks.OnSpeaker(s.Name, s.Confidence)
	}
}

func (b *Bridge) handleVoiceLearned(payload []byte) {
	var v struct {
		Name    string `json:"name"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return
	}
	if b.callbacks.OnVoiceLearned != nil {
		b.callbacks.OnVoiceLearned(v.Name, v.Success)
	}
}

type genericEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Error string `json:"error"`
	Data  struct {
		Name        string  `json:"name"`
		Success     *bool   `json:"success"`
		Confidence  float64 `json:"confidence"`
		Description string  `json:"description"`
		Found       bool    `json:"found"`
		Reason      string  `json:"reason"`
		Step        int     `json:"step"`
		Total       int     `json:"total"`
		Instruction string  `json:"instruction"`
	} `json:"data"`
}

func (b *Bridge) handleEvent(payload []byte) {
	var ev genericEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	kind := ev.Type
	if kind == "" {
		kind = ev.Event
	}

	switch kind {
	case "person_learned":
		ok := ev.Data.Success == nil || *ev.Data.Success
		log.Printf("[vision] camera %s learning %s", map[bool]string{true: "finished", false: "failed"}[ok], ev.Data.Name)
	case "person_forgotten":
		log.Printf("[vision] camera forgot %s", ev.Data.Name)
	case "openai_analysis":
		b.deliverAnalysis(ev.Data.Description)
	case "openai_analysis_error":
		b.deliverAnalysis("Feil: " + ev.Error)
	case "unknown_person":
		b.deliverFace(faceResult{})
		if b.callbacks.OnUnknownFace != nil {
			b.callbacks.OnUnknownFace()
		}
	case "face_recognized":
		b.deliverFace(faceResult{found: true, name: ev.Data.Name, confidence: ev.Data.Confidence})
		if b.callbacks.OnFaceDetected != nil {
			b.callbacks.OnFaceDetected(ev.Data.Name, ev.Data.Confidence)
		}
	case "learning_progress":
		if b.callbacks.OnLearningStep != nil {
			b.callbacks.OnLearningStep(ev.Data.Name, ev.Data.Step, ev.Data.Total, ev.Data.Instruction)
		}
	case "check_person_result":
		if ev.Data.Found {
			b.deliverFace(faceResult{found: true, name: ev.Data.Name, confidence: ev.Data.Confidence})
		} else {
			b.deliverFace(faceResult{})
			if ev.Data.Reason == "no_person_detected" && b.callbacks.OnUnknownFace != nil {
				b.callbacks.OnUnknownFace()
			}
		}
	}
}

func (b *Bridge) deliverObject(r objectResult) {
	b.mu.Lock()
	ch := b.objectWait
	b.objectWait = nil
	b.mu.Unlock()
	if ch != nil {
		ch <- r
	}
}

func (b *Bridge) deliverAnalysis(desc string) {
	b.mu.Lock()
	ch := b.analysisWait
	b.analysisWait = nil
	b.mu.Unlock()
	if ch != nil {
		ch <- desc
	}
}

func (b *Bridge) deliverFace(r faceResult) {
	b.mu.Lock()
	ch := b.faceWait
	b.faceWait = nil
	b.mu.Unlock()
	if ch != nil {
		ch <- r
	}
}

func (b *Bridge) publishCommand(cmd map[string]any) bool {
	if !b.Online() {
		log.Printf("[vision] camera offline, dropping command %v", cmd["command"])
		return false
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return false
	}
	topic := fmt.Sprintf("duck/%s/commands", b.duckName)
	b.client.Publish(topic, qosAtLeastOnce, false, payload)
	return true
}

// LookAround asks the camera to detect objects and waits for the reply,
// returning a spoken Norwegian description.
func (b *Bridge) LookAround() string {
	ch := make(chan objectResult, 1)
	b.mu.Lock()
	b.objectWait = ch
	b.mu.Unlock()

	if !b.publishCommand(map[string]any{"command": "detect_object"}) {
		return "Kameraet mitt er ikke tilkoblet"
	}
	select {
	case r := <-ch:
		return describeObjects(r)
	case <-time.After(objectTimeout):
		b.mu.Lock()
		b.objectWait = nil
		b.mu.Unlock()
		return "Fikk ikke svar fra kameraet"
	}
}

// AnalyzeScene asks for a full scene description, optionally steered by a
// question.
func (b *Bridge) AnalyzeScene(question string) string {
	ch := make(chan string, 1)
	b.mu.Lock()
	b.analysisWait = ch
	b.mu.Unlock()

	cmd := map[string]any{"command": "analyze_scene"}
	if question != "" {
		cmd["question"] = question
	}
	if !b.publishCommand(cmd) {
		return "Kameraet mitt er ikke tilkoblet"
	}
	select {
	case desc := <-ch:
		if desc == "" {
			return "Tomt svar fra kameraet"
		}
		return desc
	case <-time.After(analyzeTimeout):
		b.mu.Lock()
		b.analysisWait = nil
		b.mu.Unlock()
		return "Fikk ikke svar fra bildeanalysen"
	}
}

// CheckPerson asks who is in front of the camera.
func (b *Bridge) CheckPerson() (found bool, name string, confidence float64) {
	ch := make(chan faceResult, 1)
	b.mu.Lock()
	b.faceWait = ch
	b.mu.Unlock()

	if !b.publishCommand(map[string]any{"command": "check_person"}) {
		return false, "", 0
	}
	select {
	case r := <-ch:
		return r.found, r.name, r.confidence
	case <-time.After(faceTimeout):
		b.mu.Lock()
		b.faceWait = nil
		b.mu.Unlock()
		return false, "", 0
	}
}

func (b *Bridge) LearnPerson(name string, samples int) {
	if samples <= 0 {
		samples = 5
	}
	b.publishCommand(map[string]any{"command": "learn_person", "name": name, "num_samples": samples})
}

func (b *Bridge) ForgetPerson(name string) {
	b.publishCommand(map[string]any{"command": "forget_person", "name": name})
}

func (b *Bridge) ListKnownPeople() {
	b.publishCommand(map[string]any{"command": "list_people"})
}

func (b *Bridge) LearnVoice(name string, duration float64) {
	b.publishCommand(map[string]any{"command": "learn_voice", "name": name, "duration": duration})
}

// NotifySpeaking mutes the camera microphone while the duck is talking.
func (b *Bridge) NotifySpeaking(speaking bool) {
	if !b.client.IsConnected() {
		return
	}
	payload, _ := json.Marshal(map[string]bool{"speaking": speaking})
	b.client.Publish(fmt.Sprintf("duck/%s/speaking", b.duckName), qosFireAndForget, false, payload)
}

// NotifyConversation tells the camera a conversation started or ended so it
// can prioritize speaker recognition.
func (b *Bridge) NotifyConversation(active bool) {
	if !b.client.IsConnected() {
		return
	}
	payload, _ := json.Marshal(map[string]bool{"active": active})
	b.client.Publish(fmt.Sprintf("duck/%s/conversation", b.duckName), qosFireAndForget, false, payload)
}

// SaveConversationVoice stores a voice profile from audio gathered during
// the active conversation. Must be sent before NotifyConversation(false).
func (b *Bridge) SaveConversationVoice(name string) {
	b.publishCommand(map[string]any{"command": "save_conversation_voice", "name": name})
}

// describeObjects turns a detection into the duck's spoken phrasing.
func describeObjects(r objectResult) string {
	if r.object == "" {
		return "Jeg ser ingenting akkurat nå"
	}
	if len(r.all) > 1 {
		names := make([]string, 0, len(r.all))
		for _, o := range r.all {
			if o.Confidence > 0.7 {
				names = append(names, fmt.Sprintf("%s (%.0f%%)", o.Name, o.Confidence*100))
			} else {
				names = append(names, o.Name)
			}
		}
		if len(names) == 2 {
			return fmt.Sprintf("Jeg ser en %s og en %s", names[0], names[1])
		}
		var parts []string
		for _, n := range names[:len(names)-1] {
			parts = append(parts, "en "+n)
		}
		return fmt.Sprintf("Jeg ser %s og en %s", strings.Join(parts, ", "), names[len(names)-1])
	}
	if r.confidence > 0.7 {
		return fmt.Sprintf("Jeg ser en %s (%.0f%% sikker)", r.object, r.confidence*100)
	}
	return fmt.Sprintf("Jeg ser kanskje en %s (%.0f%%)", r.object, r.confidence*100)
}
