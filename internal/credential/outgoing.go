package credential

import (
	"context"
	"strconv"

	"google.golang.org/grpc/metadata"
)

// AttachToOutgoingContext mints a fresh request credential for c and returns
// a context carrying it as the x-ssh-* gRPC metadata the gateway's
// extractCredentials expects (spec.md 4.1).
func AttachToOutgoingContext(ctx context.Context, c *Credential) (context.Context, error) {
	creds, err := c.CredentialsForRequest()
	if err != nil {
		return nil, err
	}
	md := metadata.Pairs(
		"x-ssh-pubkey", creds.PublicKeyLine,
		"x-ssh-signature", string(creds.Signature),
		"x-ssh-timestamp", strconv.FormatInt(creds.Timestamp, 10),
		"x-ssh-nonce", creds.Nonce,
	)
	return metadata.NewOutgoingContext(ctx, md), nil
}
