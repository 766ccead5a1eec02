package ports

import "context"

// Generator is the model-serving process (Ollama) as seen by the daemon.
type Generator interface {
	ModelManager

	// StreamChat sends the full history to model and calls onChunk for every
	// streamed increment, in order. It returns after the chunk with Done set,
	// or with an error. The ChatID of chunks is left empty; callers fill it.
	StreamChat(ctx context.Context, model string, history []ChatMessage, onChunk func(ChunkEvent)) error
}

// ModelManager lists, inspects and maintains the models of the server.
// Errors carry user-facing messages.
type ModelManager interface {
	// ListModels returns the locally available models.
	ListModels(ctx context.Context) ([]Model, error)
	// RunningModels returns the models currently loaded in memory.
	RunningModels(ctx context.Context) ([]RunningModel, error)
	ShowModel(ctx context.Context, model string) (*ModelInfo, error)

	// CreateModel, PullModel and PushModel block until the server reports
	// completion.
	CreateModel(ctx context.Context, args CreateModelArgs) (*ModelStatus, error)
	CopyModel(ctx context.Context, source, destination string) (*ModelStatus, error)
	PullModel(ctx context.Context, model string) (*ModelStatus, error)
	PushModel(ctx context.Context, model string) (*ModelStatus, error)
	DeleteModel(ctx context.Context, model string) (*ModelStatus, error)
}
