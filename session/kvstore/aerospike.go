package kvstore

import (
	"context"
	"fmt"
	"math"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"
	"github.com/aerospike/aerospike-client-go/v7/types"
)

// DataBin is the bin session payloads are stored in
const DataBin = "data"

// AerospikeClient adapts an Aerospike client to Client. Records live in one
// namespace and set; reads touch the record so its TTL slides.
//
// A ttl of zero is sent as Expiration 0, which Aerospike reads as "use the
// namespace's default-ttl", not "never expire". Store always passes its
// positive lifetime to Set and Get; Delete sends 0 since it writes no TTL.
type AerospikeClient struct {
	client    *as.Client
	namespace string
	set       string
}

var _ Client = (*AerospikeClient)(nil)

// NewAerospikeClient wraps client, storing records in namespace and set
func NewAerospikeClient(client *as.Client, namespace, set string) *AerospikeClient {
	return &AerospikeClient{
		client:    client,
		namespace: namespace,
		set:       set,
	}
}

func (c *AerospikeClient) key(k string) (*as.Key, error) {
	key, err := as.NewKey(c.namespace, c.set, k)
	if err != nil {
		return nil, fmt.Errorf("build aerospike key: %w", err)
	}

	return key, nil
}

// writePolicy builds a policy expiring records after ttl, bounded by ctx's
// deadline. A non-positive ttl leaves Expiration at as.TTLServerDefault.
func writePolicy(ctx context.Context, ttl time.Duration) *as.WritePolicy {
	var expiration uint32
	if ttl > 0 {
		secs := int64(math.Ceil(ttl.Seconds()))
		if secs > math.MaxUint32-2 {
			secs = math.MaxUint32 - 2
		}
		expiration = uint32(secs)
	}

	policy := as.NewWritePolicy(0, expiration)
	if deadline, ok := ctx.Deadline(); ok {
		policy.TotalTimeout = time.Until(deadline)
	}

	return policy
}

func (c *AerospikeClient) Get(ctx context.Context, k string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	key, err := c.key(k)
	if err != nil {
		return "", false, err
	}

	var rec *as.Record
	var aerr as.Error
	if ttl > 0 {
		rec, aerr = c.client.Operate(writePolicy(ctx, ttl), key, as.TouchOp(), as.GetBinOp(DataBin))
	} else {
		policy := as.NewPolicy()
		if deadline, ok := ctx.Deadline(); ok {
			policy.TotalTimeout = time.Until(deadline)
		}
		rec, aerr = c.client.Get(policy, key, DataBin)
	}

	if aerr != nil {
		if aerr.Matches(types.KEY_NOT_FOUND_ERROR) {
			return "", false, nil
		}

		return "", false, aerr
	}

	if rec == nil {
		return "", false, nil
	}

	value, _ := rec.Bins[DataBin].(string)
	return value, true, nil
}

func (c *AerospikeClient) Set(ctx context.Context, k, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := c.key(k)
	if err != nil {
		return err
	}

	if aerr := c.client.Put(writePolicy(ctx, ttl), key, as.BinMap{DataBin: value}); aerr != nil {
		return aerr
	}

	return nil
}

func (c *AerospikeClient) Delete(ctx context.Context, k string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key, err := c.key(k)
	if err != nil {
		return false, err
	}

	existed, aerr := c.client.Delete(writePolicy(ctx, 0), key)
	if aerr != nil {
		return false, aerr
	}

	return existed, nil
}
