package objstore

import (
	"reflect"
)

// CheckStorable verifies that v contains nothing the store cannot persist: no
// functions, channels or unsafe pointers, at any depth. A nil value is storable.
// It returns an ErrNotStorable error describing the offending path.
func CheckStorable(v any) error {
	if v == nil {
		return nil
	}
	seen := make(map[uintptr]bool)
	if path, ok := storable(reflect.ValueOf(v), "value", seen); !ok {
		return NewError(RetCNotStorable, "%T contains %s", v, path)
	}
	return nil
}

// CheckManaged verifies that obj can be managed by a store: a non-nil pointer to
// a storable value
func CheckManaged(obj ManagedObject) error {
	if obj == nil {
		return NewError(RetCNotStorable, "managed object is nil")
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer {
		return NewError(RetCNotStorable, "managed object %T is not a pointer", obj)
	}
	if rv.IsNil() {
		return NewError(RetCNotStorable, "managed object %T is a nil pointer", obj)
	}
	return CheckStorable(obj)
}

// storable walks rv and returns the path to the first value that cannot be stored
func storable(rv reflect.Value, path string, seen map[uintptr]bool) (string, bool) {
	switch rv.Kind() {
	case reflect.Invalid:
		return "", true
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return path + " (" + rv.Type().String() + ")", false
	case reflect.Pointer:
		if rv.IsNil() {
			return "", true
		}
		if seen[rv.Pointer()] {
			return "", true
		}
		seen[rv.Pointer()] = true
		return storable(rv.Elem(), path, seen)
	case reflect.Interface:
		if rv.IsNil() {
			return "", true
		}
		return storable(rv.Elem(), path, seen)
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if p, ok := storable(rv.Field(i), path+"."+t.Field(i).Name, seen); !ok {
				return p, false
			}
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "", true
		}
		for i := 0; i < rv.Len(); i++ {
			if p, ok := storable(rv.Index(i), path+"[]", seen); !ok {
				return p, false
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if p, ok := storable(iter.Key(), path+"{key}", seen); !ok {
				return p, false
			}
			if p, ok := storable(iter.Value(), path+"{}", seen); !ok {
				return p, false
			}
		}
	}
	return "", true
}
