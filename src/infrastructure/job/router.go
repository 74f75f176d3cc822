package job

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// NewRouter wires every registered task type to ProcessJobMessage. With a
// competing-consumer subscriber such as AMQP, handlers > 1 runs that many
// jobs of each type at once. Fan-out subscribers must use a single handler.
func (s *JobService) NewRouter(subscriber message.Subscriber, handlers int, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, logger)
	if err != nil {
		return nil, err
	}

	// Add middleware. Task failures are recorded by ProcessJobMessage, so
	// Retry only sees bookkeeping errors.
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	if handlers < 1 {
		handlers = 1
	}
	for _, taskType := range s.TaskTypes() {
		for i := 0; i < handlers; i++ {
			router.AddNoPublisherHandler(
				fmt.Sprintf("%s_processor_%d", taskType, i),
				taskType,
				subscriber,
				s.ProcessJobMessage,
			)
		}
	}

	return router, nil
}
