package persist

import (
	"encoding/json"
	"fmt"
)

// NewStore creates a storage backend from configuration. The returned store
// is ready for use; remote backends have been connectivity-checked.
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		path, _ := config.Config["path"].(string)
		return NewFileSystemStore(path)

	case StoreTypeS3:
		var s3cfg S3Config
		if err := decodeConfig(config.Config, &s3cfg); err != nil {
			return nil, fmt.Errorf("invalid s3 store config: %w", err)
		}
		return NewS3Store(s3cfg)

	case StoreTypeMongo:
		var mcfg MongoConfig
		if err := decodeConfig(config.Config, &mcfg); err != nil {
			return nil, fmt.Errorf("invalid mongo store config: %w", err)
		}
		// Mongo holds documents only; blobs go to a sibling object backend.
		objPath, _ := config.Config["object_path"].(string)
		var objects Store
		var err error
		if objPath != "" {
			objects, err = NewFileSystemStore(objPath)
		} else {
			var s3cfg S3Config
			if err = decodeConfig(config.Config, &s3cfg); err != nil {
				return nil, fmt.Errorf("invalid object store config: %w", err)
			}
			objects, err = NewS3Store(s3cfg)
		}
		if err != nil {
			return nil, err
		}
		return NewMongoStore(mcfg, objects)

	case StoreTypeMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}

// decodeConfig converts the generic config map into a typed options struct.
func decodeConfig(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return fmt.Errorf("missing configuration")
	}

	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
