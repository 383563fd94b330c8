package cmd

// Broker backends register their URL schemes on import.
import (
	_ "linkpipe/internal/broker/amqp"
	_ "linkpipe/internal/broker/kafka"
	_ "linkpipe/internal/broker/memory"
	_ "linkpipe/internal/broker/redis"
)
