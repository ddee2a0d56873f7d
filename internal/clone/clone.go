// Package clone provides a cycle-safe deep copy helper used anywhere a
// cached value must be handed out without letting the caller's later
// mutations leak back into the cache (or vice versa).
package clone

import "reflect"

// cycleDetectionContext maps the address of an original pointer-like
// value (map, slice, ptr) to its already-made copy, so a cyclic
// structure copies without looping forever.
type cycleDetectionContext map[uintptr]interface{}

// DeepCopy creates a deep copy of src. It is safe for cyclic data
// structures and falls back to reflection for types the fast path
// doesn't special-case.
func DeepCopy(src interface{}) interface{} {
	if src == nil {
		return nil
	}
	ctx := make(cycleDetectionContext)
	return deepCopyRecursive(src, ctx)
}

func deepCopyRecursive(src interface{}, ctx cycleDetectionContext) interface{} {
	if src == nil {
		return nil
	}

	original := reflect.ValueOf(src)
	kind := original.Kind()

	if kind == reflect.Map || kind == reflect.Slice || kind == reflect.Ptr {
		addr := original.Pointer()
		if cpy, exists := ctx[addr]; exists {
			return cpy
		}
	}

	switch v := src.(type) {
	case map[string]interface{}:
		addr := reflect.ValueOf(v).Pointer()
		cpy := make(map[string]interface{}, len(v))
		ctx[addr] = cpy
		for key, value := range v {
			cpy[key] = deepCopyRecursive(value, ctx)
		}
		return cpy

	case []interface{}:
		addr := reflect.ValueOf(v).Pointer()
		cpy := make([]interface{}, len(v), cap(v))
		ctx[addr] = cpy
		for i, value := range v {
			cpy[i] = deepCopyRecursive(value, ctx)
		}
		return cpy

	case string, int, int64, int32, int16, int8, uint, uint64, uint32, uint16, uint8, float64, float32, bool, complex64, complex128:
		return v

	default:
		return deepCopyReflection(original, ctx)
	}
}

func deepCopyReflection(original reflect.Value, ctx cycleDetectionContext) interface{} {
	if !original.IsValid() {
		return nil
	}

	cpy := reflect.New(original.Type()).Elem()

	switch original.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Struct, reflect.Array:
		if original.CanAddr() {
			ctx[original.Addr().Pointer()] = cpy.Addr().Interface()
		}
	}

	switch original.Kind() {
	case reflect.Ptr:
		if original.IsNil() {
			return nil
		}
		addr := original.Pointer()
		if existingCopy, exists := ctx[addr]; exists {
			return existingCopy
		}
		newPtr := reflect.New(original.Type().Elem())
		ctx[addr] = newPtr.Interface()
		copiedElem := deepCopyRecursive(original.Elem().Interface(), ctx)
		if copiedElem != nil {
			newPtr.Elem().Set(reflect.ValueOf(copiedElem))
		}
		return newPtr.Interface()

	case reflect.Interface:
		if original.IsNil() {
			return nil
		}
		return deepCopyRecursive(original.Elem().Interface(), ctx)

	case reflect.Slice:
		if original.IsNil() {
			return nil
		}
		cpy.Set(reflect.MakeSlice(original.Type(), original.Len(), original.Cap()))
		ctx[original.Pointer()] = cpy.Interface()
		for i := 0; i < original.Len(); i++ {
			cpy.Index(i).Set(reflect.ValueOf(deepCopyRecursive(original.Index(i).Interface(), ctx)))
		}

	case reflect.Map:
		if original.IsNil() {
			return nil
		}
		cpy.Set(reflect.MakeMap(original.Type()))
		ctx[original.Pointer()] = cpy.Interface()
		for _, key := range original.MapKeys() {
			originalValue := original.MapIndex(key)
			copiedValue := deepCopyRecursive(originalValue.Interface(), ctx)
			copiedKey := deepCopyRecursive(key.Interface(), ctx)
			cpy.SetMapIndex(reflect.ValueOf(copiedKey), reflect.ValueOf(copiedValue))
		}

	case reflect.Struct:
		for i := 0; i < original.NumField(); i++ {
			if cpy.Field(i).CanSet() {
				fieldCopy := deepCopyRecursive(original.Field(i).Interface(), ctx)
				if fieldCopy != nil {
					cpy.Field(i).Set(reflect.ValueOf(fieldCopy))
				}
			}
		}

	case reflect.Array:
		for i := 0; i < original.Len(); i++ {
			elemCopy := deepCopyRecursive(original.Index(i).Interface(), ctx)
			if elemCopy != nil {
				cpy.Index(i).Set(reflect.ValueOf(elemCopy))
			}
		}

	default:
		cpy.Set(original)
	}

	return cpy.Interface()
}
