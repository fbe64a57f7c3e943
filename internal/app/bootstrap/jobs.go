package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/internal/jobs"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

// BuildJobQueue returns the in-process queue or SQS.
func BuildJobQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (jobs.Queue, error) {
	if cfg.UseMemoryQueue {
		logger.Info("trailing job queue ready", "backend", backendMemory, "buffer", cfg.MemoryQueueSize)
		return jobs.NewMemoryQueue(cfg.MemoryQueueSize), nil
	}
	if strings.TrimSpace(cfg.JobQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: JOB_QUEUE_URL is required when the memory queue is disabled")
	}
	logger.Info("trailing job queue ready", "backend", "sqs")
	return jobs.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.JobQueueURL), nil
}

// BuildJobStore tracks job status in DynamoDB when a table is configured and
// in memory otherwise.
func BuildJobStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) jobs.JobStore {
	if strings.TrimSpace(cfg.JobsTable) == "" {
		return jobs.NewMemoryJobStore()
	}
	return jobs.NewDynamoJobStore(dynamodb.NewFromConfig(awsCfg), cfg.JobsTable, logger)
}
