package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices = []byte("devices")
	bucketNames   = []byte("names")
	bucketNetwork = []byte("network")
	keyNetState   = []byte("state")
)

// BoltStore implements Store on a single bbolt file. Friendly names are kept
// in a secondary bucket so MQTT topic lookups don't scan every device.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a bbolt database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketNames, bucketNetwork} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func getDevice(tx *bolt.Tx, ieee string) (*Device, error) {
	data := tx.Bucket(bucketDevices).Get([]byte(ieee))
	if data == nil {
		return nil, fmt.Errorf("device %s: %w", ieee, ErrNotFound)
	}
	var dev Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, fmt.Errorf("device %s: %w", ieee, err)
	}
	return &dev, nil
}

// putDevice writes dev and keeps the name index in step with it.
func putDevice(tx *bolt.Tx, dev *Device) error {
	devices, names := tx.Bucket(bucketDevices), tx.Bucket(bucketNames)
	if old := devices.Get([]byte(dev.IEEEAddress)); old != nil {
		var prev Device
		if err := json.Unmarshal(old, &prev); err == nil && prev.FriendlyName != "" && prev.FriendlyName != dev.FriendlyName {
			if err := names.Delete([]byte(prev.FriendlyName)); err != nil {
				return err
			}
		}
	}
	if dev.FriendlyName != "" {
		if owner := names.Get([]byte(dev.FriendlyName)); owner != nil && string(owner) != dev.IEEEAddress {
			return fmt.Errorf("friendly name %q already used by %s", dev.FriendlyName, owner)
		}
		if err := names.Put([]byte(dev.FriendlyName), []byte(dev.IEEEAddress)); err != nil {
			return err
		}
	}
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	return devices.Put([]byte(dev.IEEEAddress), data)
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putDevice(tx, dev)
	})
}

func (s *BoltStore) GetDevice(ieee string) (*Device, error) {
	var dev *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		dev, err = getDevice(tx, ieee)
		return err
	})
	return dev, err
}

func (s *BoltStore) GetDeviceByName(name string) (*Device, error) {
	var dev *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		ieee := name
		if v := tx.Bucket(bucketNames).Get([]byte(name)); v != nil {
			ieee = string(v)
		}
		var err error
		dev, err = getDevice(tx, ieee)
		return err
	})
	return dev, err
}

func (s *BoltStore) DeleteDevice(ieee string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dev, err := getDevice(tx, ieee)
		if err != nil {
			return err
		}
		if dev.FriendlyName != "" {
			if err := tx.Bucket(bucketNames).Delete([]byte(dev.FriendlyName)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketDevices).Delete([]byte(ieee))
	})
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return fmt.Errorf("device %s: %w", k, err)
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(ieee string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dev, err := getDevice(tx, ieee)
		if err != nil {
			return err
		}
		if err := fn(dev); err != nil {
			return err
		}
		return putDevice(tx, dev)
	})
}

func (s *BoltStore) SaveNetworkState(state *NetworkState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(networkStateRecord(*state))
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNetwork).Put(keyNetState, data)
	})
}

func (s *BoltStore) GetNetworkState() (*NetworkState, error) {
	var rec networkStateRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNetwork).Get(keyNetState)
		if data == nil {
			return fmt.Errorf("network state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	state := NetworkState(rec)
	return &state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
