package voxflow

// route binds a task kind to its queue and asynq task type. The routing key
// and the queue name are the same label, as in the broker configuration this
// layer replaces.
type route struct {
	Queue    string
	TaskType string
}

// Router maps task kinds to queues. The table is fixed at construction and
// never mutated, so a Router is safe for concurrent use.
type Router struct {
	table map[TaskKind]route
}

// NewRouter returns a Router with the static three-entry pipeline table:
// stt, llm and tts each bound to a queue of the same name.
func NewRouter() *Router {
	return &Router{table: map[TaskKind]route{
		KindSTT: {Queue: "stt", TaskType: "stt:transcribe"},
		KindLLM: {Queue: "llm", TaskType: "llm:respond"},
		KindTTS: {Queue: "tts", TaskType: "tts:synthesize"},
	}}
}

// Route returns the routing key (queue name) for kind.
func (r *Router) Route(kind TaskKind) (string, error) {
	rt, ok := r.table[kind]
	if !ok {
		return "", &UnknownKindError{Kind: kind}
	}
	return rt.Queue, nil
}

// TaskType returns the asynq task type registered for kind.
func (r *Router) TaskType(kind TaskKind) (string, error) {
	rt, ok := r.table[kind]
	if !ok {
		return "", &UnknownKindError{Kind: kind}
	}
	return rt.TaskType, nil
}

// Queues returns every queue name in the table, for server configuration.
func (r *Router) Queues() []string {
	qs := make([]string, 0, len(r.table))
	for _, kind := range Kinds {
		if rt, ok := r.table[kind]; ok {
			qs = append(qs, rt.Queue)
		}
	}
	return qs
}
