// Package transports imports every built-in broker transport so each one
// registers itself with the default registry.
package transports

import (
	_ "github.com/drblury/xrayflow/transport/aws"
	_ "github.com/drblury/xrayflow/transport/channel"
	_ "github.com/drblury/xrayflow/transport/http"
	_ "github.com/drblury/xrayflow/transport/kafka"
	_ "github.com/drblury/xrayflow/transport/nats"
	_ "github.com/drblury/xrayflow/transport/rabbitmq"
)
