// Package transports imports all built-in transports for auto-registration.
// Import it for side effects to make every transport available to the ingress.
package transports

import (
	_ "github.com/drblury/glue/transport/aws"
	_ "github.com/drblury/glue/transport/channel"
	_ "github.com/drblury/glue/transport/http"
	_ "github.com/drblury/glue/transport/jetstream"
	_ "github.com/drblury/glue/transport/kafka"
	_ "github.com/drblury/glue/transport/nats"
	_ "github.com/drblury/glue/transport/rabbitmq"
)
