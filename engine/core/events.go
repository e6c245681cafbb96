package core

import (
	"reflect"
	"sync"
)

type EventContext struct {
	Data struct {
		I64 [2]int64
		U64 [2]uint64
		F64 [2]float64

		C [2]string
	}
}

// Resource event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// A resource reached the loaded state.
	/* Context usage:
	 * u32 handle index = data.U64[0], generation = data.U64[1]
	 * i64 load time in nanoseconds = data.I64[0]
	 * string resource id = data.C[0]
	 */
	EVENT_CODE_RESOURCE_LOADED SystemEventCode = 0x01

	// A resource failed to load.
	/* Context usage:
	 * same as EVENT_CODE_RESOURCE_LOADED, without the load time
	 */
	EVENT_CODE_RESOURCE_FAILED SystemEventCode = 0x02

	// A texture was reloaded from its files.
	/* Context usage:
	 * string old id = data.C[0], new id = data.C[1]
	 */
	EVENT_CODE_RESOURCE_RELOADED SystemEventCode = 0x03

	// A resource was unloaded on its loader thread.
	/* Context usage:
	 * string resource id = data.C[0]
	 */
	EVENT_CODE_RESOURCE_UNLOADED SystemEventCode = 0x04

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventSystem dispatches events to registered listeners. Callbacks run on
// the goroutine that fires the event. It is safe for concurrent use.
type EventSystem struct {
	mutex      sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventSystem() *EventSystem {
	return &EventSystem{registered: make(map[SystemEventCode][]registeredEvent)}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listener/callback combos will not be registered again and will cause this to return false.
 * @param code The event code to listen for.
 * @param listener A listener instance. Can be nil.
 * @param onEvent The callback to be invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (es *EventSystem) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil || code < 0 || code >= MAX_MESSAGE_CODES {
		return false
	}
	es.mutex.Lock()
	defer es.mutex.Unlock()

	for _, e := range es.registered[code] {
		if sameListener(e.listener, listener) && sameCallback(e.callback, onEvent) {
			return false
		}
	}
	es.registered[code] = append(es.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns false.
 */
func (es *EventSystem) Unregister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	events := es.registered[code]
	for i, e := range events {
		if sameListener(e.listener, listener) && sameCallback(e.callback, onEvent) {
			es.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func (es *EventSystem) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	es.mutex.RLock()
	events := es.registered[code]
	es.mutex.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			return true
		}
	}
	return false
}

// Shutdown drops every registration.
func (es *EventSystem) Shutdown() {
	es.mutex.Lock()
	defer es.mutex.Unlock()
	es.registered = make(map[SystemEventCode][]registeredEvent)
}

// sameListener compares listeners by identity. Maps, slices and funcs are
// not comparable with ==, so they are matched by the pointer they refer to.
func sameListener(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return equalListeners(a, b)
	}
	switch ta.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		if ta.Kind() == reflect.Slice && va.Len() != vb.Len() {
			return false
		}
		return va.Pointer() == vb.Pointer()
	}
	return false
}

// equalListeners recovers from structs whose interface fields hold
// uncomparable values.
func equalListeners(a, b interface{}) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}

func sameCallback(a, b FnOnEvent) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
