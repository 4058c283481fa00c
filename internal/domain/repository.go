package domain

import "context"

// CharacterRepository reads character records owned by the dashboard.
type CharacterRepository interface {
	GetByID(ctx context.Context, id string) (*Character, error)
}

// JobRepository persists generation job state.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	GetByID(ctx context.Context, id string) (*GenerationJob, error)
	GetByExternalID(ctx context.Context, backend BackendKind, externalID string) (*GenerationJob, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, resultKey string, seed *int64) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// ImageRepository persists generated image records.
type ImageRepository interface {
	Create(ctx context.Context, img *Image) error
	GetByID(ctx context.Context, id string) (*Image, error)
	UpdateResult(ctx context.Context, id string, storageKey, url string, status ImageStatus) error
}

// LoraRepository persists identity adapters and their training datasets.
type LoraRepository interface {
	Create(ctx context.Context, lora *CharacterLora) error
	GetByID(ctx context.Context, id string) (*CharacterLora, error)
	GetActiveByCharacter(ctx context.Context, characterID string) (*CharacterLora, error)
	GetLatestByCharacter(ctx context.Context, characterID string) (*CharacterLora, error)
	GetDeployedByCharacter(ctx context.Context, characterID string) (*CharacterLora, error)
	UpdateStatus(ctx context.Context, id string, status LoraStatus) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkDeployed(ctx context.Context, id string, artifactKey string, score float64) error
	SetDatasetSize(ctx context.Context, id string, size int) error
	SaveDatasetImage(ctx context.Context, img *DatasetImage) error
	ListDatasetImages(ctx context.Context, loraID string) ([]DatasetImage, error)
	UpdateDatasetImage(ctx context.Context, id string, status EvalStatus, score *float64, caption string) error
}
