package rekognition

// Config holds configuration for AWS Rekognition provider
type Config struct {
	// Region is the AWS region where Rekognition service will be used (e.g., "us-east-1")
	Region string

	// MinConfidence drops detections below this confidence (0-100)
	MinConfidence float64

	// FrontToleranceDegrees is used by CheckLiveness to decide whether the selfie faces the camera
	FrontToleranceDegrees float64
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Region:                "us-east-1",
		MinConfidence:         90,
		FrontToleranceDegrees: 12,
	}
}
