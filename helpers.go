package zacp

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"time"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/pkg/errors"

	"github.com/outofforest/zacp/wire"
)

// selfIdentity allocates identity unique across processes: app name, pid, time and random suffix.
func selfIdentity(appID string) (wire.PeerIdentity, error) {
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return wire.PeerIdentity{}, errors.WithStack(err)
	}
	return wire.PeerIdentity{
		AppID: appID,
		UniqueID: fmt.Sprintf("%s-%d-%d-%s", appID, os.Getpid(), time.Now().UnixNano(),
			cristalbase64.URLEncoding.EncodeToString(suffix[:])),
	}, nil
}

func requestID(n uint64) string {
	return strconv.FormatUint(n, 10)
}
