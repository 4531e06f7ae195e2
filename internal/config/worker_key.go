package config

type WorkerKeyStruct struct {
	PersistSubmissionsQueue string
	PersistAnswersQueue     string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSubmissionsQueue: "persist_submissions_queue",
	PersistAnswersQueue:     "persist_answers_queue",
}
